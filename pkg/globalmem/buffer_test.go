package globalmem

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/plugin-chrdev/internal/shm"
)

func TestSharedBufferDefaults(t *testing.T) {
	a := assert.New(t)
	buf, err := NewSharedBuffer()
	require.NoError(t, err)
	a.Equal(Capacity, buf.Cap())
	a.Equal(shm.BackingHeap, buf.Backing())
	a.Equal(0, buf.MaxSessions())
	a.Equal(0, buf.Sessions())

	g := buf.Lock()
	a.Len(g.Bytes(), Capacity)
	g.Unlock()
	g.Unlock()
	a.Nil(g.Bytes())
	a.NoError(buf.Release())
}

func TestSharedBufferMmapBacking(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("anonymous mmap is not available on windows")
	}
	buf, err := NewSharedBuffer(WithBacking(shm.BackingMmap))
	require.NoError(t, err)
	assert.Equal(t, shm.BackingMmap, buf.Backing())
	assert.NoError(t, buf.Do(func(data []byte) error {
		data[Capacity-1] = 7
		return nil
	}))
	assert.NoError(t, buf.Do(func(data []byte) error {
		assert.Equal(t, byte(7), data[Capacity-1])
		return nil
	}))
	assert.NoError(t, buf.Release())
}

func TestSharedBufferInvalidLimit(t *testing.T) {
	_, err := NewSharedBuffer(WithMaxSessions(-1))
	assert.Error(t, err)
}

func TestSharedBufferDoUnlocksOnPanic(t *testing.T) {
	buf, err := NewSharedBuffer()
	require.NoError(t, err)
	defer buf.Release() //nolint:errcheck // test cleanup

	func() {
		defer func() {
			assert.NotNil(t, recover())
		}()
		_ = buf.Do(func([]byte) error { panic("boom") })
	}()

	done := make(chan struct{})
	go func() {
		g := buf.Lock()
		g.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock was not released after panic")
	}
}

func TestSharedBufferLockIsExclusive(t *testing.T) {
	buf, err := NewSharedBuffer()
	require.NoError(t, err)
	defer buf.Release() //nolint:errcheck // test cleanup

	var (
		wg      sync.WaitGroup
		holders int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = buf.Do(func([]byte) error {
					mu.Lock()
					holders++
					if holders > maxSeen {
						maxSeen = holders
					}
					mu.Unlock()
					runtime.Gosched()
					mu.Lock()
					holders--
					mu.Unlock()
					return nil
				})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestSharedBufferRelease(t *testing.T) {
	buf, err := NewSharedBuffer()
	require.NoError(t, err)
	sess, err := Open(buf)
	require.NoError(t, err)

	require.NoError(t, buf.Release())
	require.NoError(t, buf.Release())

	_, err = sess.Write(t.Context(), 0, UserSlice("late"))
	assert.ErrorIs(t, err, ErrReleased)
	_, err = sess.Read(t.Context(), 0, UserSlice(make([]byte, 4)))
	assert.ErrorIs(t, err, ErrReleased)
	assert.NoError(t, sess.Close())
}

func TestGuardUnlockFromManyGoroutines(t *testing.T) {
	buf, err := NewSharedBuffer()
	require.NoError(t, err)

	g := buf.Lock()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Unlock()
		}()
	}
	wg.Wait()

	// A second unlock of the mutex would have panicked; the buffer is free once.
	g2 := buf.Lock()
	assert.Len(t, g2.Bytes(), Capacity)
	g2.Unlock()
	assert.NoError(t, buf.Release())
}
