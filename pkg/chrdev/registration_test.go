package chrdev

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/plugin-chrdev/api"
	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

func newTestOps(t *testing.T) (api.FileOperations, *globalmem.SharedBuffer) {
	buf, err := globalmem.NewSharedBuffer()
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Release() })
	return sharedBufferOps{buf: buf}, buf
}

func counterValue(t *testing.T, c prometheus.Metric) float64 {
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

func TestNewRegistrationValidation(t *testing.T) {
	_, err := NewRegistration("", 0, 2)
	assert.Error(t, err)
	_, err = NewRegistration("dev", 0, 0)
	assert.Error(t, err)
}

func TestRegisterAssignsMinorsAndNames(t *testing.T) {
	a := assert.New(t)
	ops, _ := newTestOps(t)
	reg, err := NewRegistration("globalmem", 4, 2)
	require.NoError(t, err)

	d0, err := reg.Register(ops)
	require.NoError(t, err)
	d1, err := reg.Register(ops)
	require.NoError(t, err)
	a.Equal("globalmem4", d0.Name())
	a.Equal(uint32(4), d0.Minor())
	a.Equal("globalmem5", d1.Name())
	a.Equal(uint32(5), d1.Minor())

	_, err = reg.Register(ops)
	a.ErrorIs(err, ErrRegistrationFull)
	_, err = reg.Register(nil)
	a.Error(err)

	got, ok := reg.Device("globalmem5")
	a.True(ok)
	a.Same(d1, got)
	_, ok = reg.Device("globalmem6")
	a.False(ok)
	a.Equal([]*Device{d0, d1}, reg.Devices())
}

func TestMinorsShareOneBuffer(t *testing.T) {
	ops, _ := newTestOps(t)
	reg, err := NewRegistration("globalmem", 0, 2)
	require.NoError(t, err)
	d0, err := reg.Register(ops)
	require.NoError(t, err)
	d1, err := reg.Register(ops)
	require.NoError(t, err)

	ctx := context.Background()
	w, err := d0.Open(ctx)
	require.NoError(t, err)
	r, err := d1.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.OpenFiles())

	n, err := w.Write(ctx, 10, globalmem.UserSlice("through minor 0"))
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	out := make([]byte, 15)
	n, err = r.Read(ctx, 10, globalmem.UserSlice(out))
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	assert.Equal(t, "through minor 0", string(out))

	assert.NoError(t, w.Close())
	assert.NoError(t, r.Close())
	assert.Equal(t, 0, reg.OpenFiles())
	assert.ErrorIs(t, r.Close(), globalmem.ErrInvalidState)
	assert.Equal(t, 0, reg.OpenFiles())
}

func TestUnregisterClosesOpenFiles(t *testing.T) {
	ops, buf := newTestOps(t)
	reg, err := NewRegistration("globalmem", 0, 1)
	require.NoError(t, err)
	dev, err := reg.Register(ops)
	require.NoError(t, err)

	ctx := context.Background()
	var files []*File
	for i := 0; i < 3; i++ {
		f, err := dev.Open(ctx)
		require.NoError(t, err)
		files = append(files, f)
	}
	require.NoError(t, files[0].Close())
	assert.Equal(t, 2, buf.Sessions())

	require.NoError(t, reg.Unregister())
	require.NoError(t, reg.Unregister())
	assert.True(t, reg.Unregistered())
	assert.Equal(t, 0, reg.OpenFiles())
	assert.Equal(t, 0, buf.Sessions())

	for _, f := range files[1:] {
		_, err := f.Read(ctx, 0, globalmem.UserSlice(make([]byte, 1)))
		assert.ErrorIs(t, err, globalmem.ErrInvalidState)
	}
	_, err = dev.Open(ctx)
	assert.ErrorIs(t, err, ErrUnregistered)
	_, err = reg.Register(ops)
	assert.ErrorIs(t, err, ErrUnregistered)
}

func TestOpenFailurePropagates(t *testing.T) {
	buf, err := globalmem.NewSharedBuffer(globalmem.WithMaxSessions(1))
	require.NoError(t, err)
	defer buf.Release() //nolint:errcheck // test cleanup

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	reg, err := NewRegistration("globalmem", 0, 1, WithMetrics(metrics))
	require.NoError(t, err)
	dev, err := reg.Register(sharedBufferOps{buf: buf})
	require.NoError(t, err)

	f, err := dev.Open(context.Background())
	require.NoError(t, err)
	_, err = dev.Open(context.Background())
	assert.ErrorIs(t, err, globalmem.ErrAllocation)
	assert.Equal(t, 1.0, counterValue(t, metrics.errs.WithLabelValues("globalmem0", opOpen, "allocation")))
	assert.NoError(t, f.Close())
}

func TestFileMetrics(t *testing.T) {
	ops, _ := newTestOps(t)
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	reg, err := NewRegistration("globalmem", 0, 1, WithMetrics(metrics))
	require.NoError(t, err)
	dev, err := reg.Register(ops)
	require.NoError(t, err)

	ctx := context.Background()
	f, err := dev.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(t, metrics.opened.WithLabelValues("globalmem0")))
	assert.Equal(t, 1.0, counterValue(t, metrics.open.WithLabelValues("globalmem0")))

	_, err = f.Write(ctx, 4090, globalmem.UserSlice("HELLOWORLD"))
	require.NoError(t, err)
	_, err = f.Read(ctx, 0, globalmem.UserSlice(make([]byte, 100)))
	require.NoError(t, err)
	_, err = f.Read(ctx, globalmem.Capacity+1, globalmem.UserSlice(make([]byte, 1)))
	require.ErrorIs(t, err, globalmem.ErrInvalidOffset)

	assert.Equal(t, 6.0, counterValue(t, metrics.bytes.WithLabelValues("globalmem0", opWrite)))
	assert.Equal(t, 1.0, counterValue(t, metrics.short.WithLabelValues("globalmem0", opWrite)))
	assert.Equal(t, 100.0, counterValue(t, metrics.bytes.WithLabelValues("globalmem0", opRead)))
	assert.Equal(t, 1.0, counterValue(t, metrics.errs.WithLabelValues("globalmem0", opRead, "invalid_offset")))

	require.NoError(t, f.Close())
	assert.Equal(t, 0.0, counterValue(t, metrics.open.WithLabelValues("globalmem0")))
}

func TestConcurrentOpenAndUnregister(t *testing.T) {
	ops, buf := newTestOps(t)
	reg, err := NewRegistration("globalmem", 0, 2)
	require.NoError(t, err)
	d0, err := reg.Register(ops)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				f, err := d0.Open(context.Background())
				if err != nil {
					return
				}
				_ = f.Close()
			}
		}()
	}
	require.NoError(t, reg.Unregister())
	wg.Wait()
	assert.Equal(t, 0, reg.OpenFiles())
	assert.Equal(t, 0, buf.Sessions())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "no_such_device", ErrorKind(ErrNoSuchDevice))
	assert.Equal(t, "invalid_state", ErrorKind(globalmem.ErrInvalidState))
	assert.Equal(t, "other", ErrorKind(assert.AnError))
}
