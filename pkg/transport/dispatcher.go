package transport

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/plugin-chrdev/api"
	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

var _ api.Transport = (*Dispatcher)(nil)

// Config tunes a Dispatcher.
type Config struct {
	// QueueCap is the initial capacity hint of the request queue.
	QueueCap int64 `mapstructure:"queue_cap" yaml:"queue_cap"`
	// Workers bounds the number of requests executing at once.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// StopTimeout bounds how long Stop waits for running requests.
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// DefaultConfig returns a Config with one worker per CPU.
func DefaultConfig() Config {
	return Config{
		QueueCap:    defaultQueueCap,
		Workers:     runtime.GOMAXPROCS(0),
		StopTimeout: 5 * time.Second,
	}
}

// Dispatcher queues requests and executes them on a bounded worker pool.
// Each request opens its node, performs one transfer and closes the file.
type Dispatcher struct {
	opener Opener
	cfg    Config
	q      *queue
	pool   *ants.Pool

	mu      sync.Mutex
	started bool
	stopped chan struct{}
	stop    sync.Once
	loop    sync.WaitGroup
}

// NewDispatcher creates a stopped Dispatcher in front of opener.
func NewDispatcher(opener Opener, cfg Config) (*Dispatcher, error) {
	if opener == nil {
		return nil, errors.New("nil opener")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = def.QueueCap
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	return &Dispatcher{
		opener:  opener,
		cfg:     cfg,
		q:       createQueue(cfg.QueueCap),
		pool:    pool,
		stopped: make(chan struct{}),
	}, nil
}

// Start begins pulling requests off the queue.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}
	if d.started {
		return errors.New("dispatcher already started")
	}
	d.started = true
	// Add runs under mu, so it either precedes Stop's Wait or sees stopped.
	d.loop.Add(1)
	go d.run()
	return nil
}

// Stop disposes the queue, fails pending requests with ErrStopped and waits
// up to StopTimeout for running requests to finish.
func (d *Dispatcher) Stop() error {
	var err error
	d.stop.Do(func() {
		d.mu.Lock()
		close(d.stopped)
		d.mu.Unlock()
		for _, c := range d.q.dispose() {
			c.done <- Response{Err: ErrStopped}
		}
		d.loop.Wait()
		err = d.pool.ReleaseTimeout(d.cfg.StopTimeout)
	})
	return err
}

// Pending returns the number of queued requests not yet handed to a worker.
func (d *Dispatcher) Pending() int64 {
	return d.q.size()
}

// Running returns the number of requests currently executing.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Do enqueues req and waits for its response. ctx bounds the wait only: a
// transfer that has started runs to completion, so when Do returns a ctx
// error req.Data may still be in use by a worker.
func (d *Dispatcher) Do(ctx context.Context, req Request) Response {
	select {
	case <-d.stopped:
		return Response{Err: ErrStopped}
	default:
	}
	c := newCall(ctx, req)
	if err := d.q.put(c); err != nil {
		return Response{Err: ErrStopped}
	}
	select {
	case resp := <-c.done:
		return resp
	case <-ctx.Done():
		return Response{Err: ctx.Err()}
	case <-d.stopped:
		// Stop may have raced with a worker already holding the call.
		select {
		case resp := <-c.done:
			return resp
		default:
			return Response{Err: ErrStopped}
		}
	}
}

func (d *Dispatcher) run() {
	defer d.loop.Done()
	for {
		c, err := d.q.pop()
		if err != nil {
			return
		}
		if c.ctx.Err() != nil {
			c.done <- Response{Err: c.ctx.Err()}
			continue
		}
		if err := d.pool.Submit(func() { c.done <- d.execute(c) }); err != nil {
			c.done <- Response{Err: ErrStopped}
		}
	}
}

func (d *Dispatcher) execute(c *call) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = Response{Err: fmt.Errorf("%s %s: panic: %v", c.req.Op, c.req.Node, r)}
		}
	}()
	f, err := d.opener.Open(c.ctx, c.req.Node)
	if err != nil {
		return Response{Err: err}
	}
	defer f.Close()

	switch c.req.Op {
	case OpRead:
		n, err := f.Read(c.ctx, c.req.Offset, globalmem.UserSlice(c.req.Data))
		return Response{N: n, Data: c.req.Data[:n], Err: err}
	case OpWrite:
		n, err := f.Write(c.ctx, c.req.Offset, globalmem.UserSlice(c.req.Data))
		return Response{N: n, Err: err}
	}
	return Response{Err: errors.Wrapf(ErrUnknownOp, "op %d", int(c.req.Op))}
}

// Collectors exposes queue depth and worker usage as prometheus gauges.
func (d *Dispatcher) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "globalmem",
			Subsystem: "dispatcher",
			Name:      "pending_requests",
			Help:      "Requests queued and not yet running.",
		}, func() float64 { return float64(d.Pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "globalmem",
			Subsystem: "dispatcher",
			Name:      "running_requests",
			Help:      "Requests currently executing on the worker pool.",
		}, func() float64 { return float64(d.Running()) }),
	}
}
