package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/plugin-chrdev/pkg/chrdev"
	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

type openerFunc func(ctx context.Context, name string) (*chrdev.File, error)

func (f openerFunc) Open(ctx context.Context, name string) (*chrdev.File, error) {
	return f(ctx, name)
}

type DispatcherTestSuite struct {
	suite.Suite
	ctx    context.Context
	module *chrdev.Module
	d      *Dispatcher
}

func (s *DispatcherTestSuite) SetupTest() {
	s.ctx = context.Background()
	m, err := chrdev.NewModule(chrdev.DefaultConfig())
	s.Require().NoError(err)
	s.Require().NoError(m.Init(s.ctx))
	s.module = m

	d, err := NewDispatcher(m, Config{Workers: 4})
	s.Require().NoError(err)
	s.Require().NoError(d.Start())
	s.d = d
}

func (s *DispatcherTestSuite) TearDownTest() {
	s.Require().NoError(s.d.Stop())
	s.Require().NoError(s.module.Exit(s.ctx))
}

func (s *DispatcherTestSuite) TestRoundTripAcrossMinors() {
	resp := s.d.Do(s.ctx, Request{Node: "globalmem0", Op: OpWrite, Offset: 4090, Data: []byte("HELLOWORLD")})
	s.Require().NoError(resp.Err)
	s.Require().Equal(6, resp.N)

	resp = s.d.Do(s.ctx, Request{Node: "globalmem1", Op: OpRead, Offset: 4090, Data: make([]byte, 10)})
	s.Require().NoError(resp.Err)
	s.Require().Equal(6, resp.N)
	s.Require().Equal("HELLOW", string(resp.Data))
	s.Require().Zero(s.module.Registration().OpenFiles())
}

func (s *DispatcherTestSuite) TestErrorsPropagate() {
	resp := s.d.Do(s.ctx, Request{Node: "globalmem0", Op: OpRead, Offset: globalmem.Capacity + 1, Data: make([]byte, 1)})
	s.Require().ErrorIs(resp.Err, globalmem.ErrInvalidOffset)

	resp = s.d.Do(s.ctx, Request{Node: "nope", Op: OpRead, Data: make([]byte, 1)})
	s.Require().ErrorIs(resp.Err, chrdev.ErrNoSuchDevice)

	resp = s.d.Do(s.ctx, Request{Node: "globalmem0", Op: Op(42)})
	s.Require().ErrorIs(resp.Err, ErrUnknownOp)
	s.Require().Zero(s.module.Registration().OpenFiles())
}

func (s *DispatcherTestSuite) TestConcurrentDisjointWriters() {
	const writers = 8
	const chunk = globalmem.Capacity / writers

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data := make([]byte, chunk)
			for j := range data {
				data[j] = byte('a' + i)
			}
			resp := s.d.Do(s.ctx, Request{Node: "globalmem0", Op: OpWrite, Offset: uint64(i * chunk), Data: data})
			errs[i] = resp.Err
		}()
	}
	wg.Wait()
	for _, err := range errs {
		s.Require().NoError(err)
	}

	resp := s.d.Do(s.ctx, Request{Node: "globalmem1", Op: OpRead, Data: make([]byte, globalmem.Capacity)})
	s.Require().NoError(resp.Err)
	s.Require().Equal(globalmem.Capacity, resp.N)
	for i := range writers {
		for _, b := range resp.Data[i*chunk : (i+1)*chunk] {
			s.Require().Equal(byte('a'+i), b)
		}
	}
}

func (s *DispatcherTestSuite) TestStartTwice() {
	s.Require().Error(s.d.Start())
}

func (s *DispatcherTestSuite) TestCollectors() {
	s.Require().Len(s.d.Collectors(), 2)
	for _, c := range s.d.Collectors() {
		s.Require().NoError(s.module.Registerer().Register(c))
	}
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func TestDispatcherContextBoundsWait(t *testing.T) {
	release := make(chan struct{})
	opened := make(chan struct{})
	d, err := NewDispatcher(openerFunc(func(ctx context.Context, name string) (*chrdev.File, error) {
		close(opened)
		<-release
		return nil, chrdev.ErrNoSuchDevice
	}), Config{Workers: 1})
	require.NoError(t, err)
	require.NoError(t, d.Start())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan Response, 1)
	go func() { done <- d.Do(ctx, Request{Node: "blocked", Op: OpRead}) }()
	<-opened
	cancel()
	require.ErrorIs(t, (<-done).Err, context.Canceled)
	require.Equal(t, 1, d.Running())

	close(release)
	require.NoError(t, d.Stop())
	require.ErrorIs(t, d.Do(t.Context(), Request{Node: "blocked", Op: OpRead}).Err, ErrStopped)
	require.ErrorIs(t, d.Start(), ErrStopped)
}

func TestStopFailsPendingRequests(t *testing.T) {
	d, err := NewDispatcher(openerFunc(func(context.Context, string) (*chrdev.File, error) {
		return nil, chrdev.ErrNoSuchDevice
	}), Config{})
	require.NoError(t, err)

	// Never started: the request stays queued until Stop fails it.
	done := make(chan Response, 1)
	go func() { done <- d.Do(t.Context(), Request{Node: "x", Op: OpRead}) }()
	require.Eventually(t, func() bool { return d.Pending() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, d.Stop())
	require.ErrorIs(t, (<-done).Err, ErrStopped)
	require.NoError(t, d.Stop())
}

func TestNewDispatcherRejectsNilOpener(t *testing.T) {
	_, err := NewDispatcher(nil, DefaultConfig())
	require.Error(t, err)
}

func TestStartRacingStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		d, err := NewDispatcher(openerFunc(func(context.Context, string) (*chrdev.File, error) {
			return nil, chrdev.ErrNoSuchDevice
		}), Config{Workers: 1})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var started atomic.Int32
		for j := 0; j < 4; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if d.Start() == nil {
					started.Add(1)
				}
			}()
			go func() {
				defer wg.Done()
				assert.NoError(t, d.Stop())
			}()
		}
		wg.Wait()

		require.LessOrEqual(t, started.Load(), int32(1))
		require.ErrorIs(t, d.Start(), ErrStopped)
		require.ErrorIs(t, d.Do(t.Context(), Request{Node: "x", Op: OpRead}).Err, ErrStopped)
		// the run loop exited with Stop
		require.Zero(t, d.Pending())
	}
}
