package chrdev

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/srediag/plugin-chrdev/adapter"
	"github.com/srediag/plugin-chrdev/api"
	"github.com/srediag/plugin-chrdev/internal/shm"
	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

type moduleState int

const (
	moduleLoaded moduleState = iota
	moduleRunning
	moduleExited
)

// Module is the character device module: one shared buffer registered under
// Config.Minors device identities.
type Module struct {
	cfg        *Config
	bufferOpts []globalmem.BufferOption
	registry   *prometheus.Registry
	metrics    *Metrics
	health     http.Handler

	mu    sync.RWMutex
	state moduleState
	buf   *globalmem.SharedBuffer
	reg   *Registration
}

var (
	_ api.Lifecycle = (*Module)(nil)
	_ api.Health    = (*Module)(nil)
)

// ModuleOption configures NewModule.
type ModuleOption func(*Module)

// WithBufferOptions passes extra options to the shared buffer created by Init.
func WithBufferOptions(opts ...globalmem.BufferOption) ModuleOption {
	return func(m *Module) { m.bufferOpts = append(m.bufferOpts, opts...) }
}

// NewModule verifies cfg and prepares the module's metrics and health
// handler. A nil cfg selects DefaultConfig. Nothing is registered before Init.
func NewModule(cfg *Config, opts ...ModuleOption) (*Module, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "verify config")
	}
	if cfg.LogLevel != "" {
		if err := SetLogLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	m := &Module{cfg: cfg, registry: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(m)
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := NewMetrics(m.registry)
	if err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}
	m.metrics = metrics
	m.health = adapter.NewHealthHandler(m, m.registry, metricsNamespace)
	return m, nil
}

// Init creates the shared buffer and registers every minor against it.
func (m *Module) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != moduleLoaded {
		return errors.New("module already initialised")
	}
	moduleLogger.infof("%s character device (init)", m.cfg.Name)

	backing, err := shm.ParseBacking(m.cfg.Backing)
	if err != nil {
		return err
	}
	opts := append([]globalmem.BufferOption{
		globalmem.WithBacking(backing),
		globalmem.WithMaxSessions(m.cfg.MaxSessions),
	}, m.bufferOpts...)
	buf, err := globalmem.NewSharedBuffer(opts...)
	if err != nil {
		return err
	}
	reg, err := NewRegistration(m.cfg.Name, m.cfg.MinorStart, m.cfg.Minors, WithMetrics(m.metrics))
	if err != nil {
		_ = buf.Release()
		return err
	}
	ops := sharedBufferOps{buf: buf}
	for i := 0; i < m.cfg.Minors; i++ {
		if _, err := reg.Register(ops); err != nil {
			_ = reg.Unregister()
			_ = buf.Release()
			return err
		}
	}
	m.buf, m.reg, m.state = buf, reg, moduleRunning
	moduleLogger.infof("registered %d minors from %d, %d byte buffer on %s",
		m.cfg.Minors, m.cfg.MinorStart, buf.Cap(), buf.Backing())
	return nil
}

// Exit tears the registration down and releases the shared buffer.
func (m *Module) Exit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != moduleRunning {
		return ErrNotRunning
	}
	m.state = moduleExited
	err := m.reg.Unregister()
	if rerr := m.buf.Release(); rerr != nil && err == nil {
		err = rerr
	}
	moduleLogger.infof("%s character device (exit)", m.cfg.Name)
	return err
}

// Config returns the module configuration.
func (m *Module) Config() *Config {
	return m.cfg
}

// Registration returns the device registration, nil before Init.
func (m *Module) Registration() *Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg
}

// Buffer returns the shared buffer, nil before Init.
func (m *Module) Buffer() *globalmem.SharedBuffer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buf
}

// Gatherer exposes the module's prometheus registry.
func (m *Module) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Registerer lets callers add collectors next to the module's own.
func (m *Module) Registerer() prometheus.Registerer {
	return m.registry
}

// HealthHandler serves the /live and /ready probes.
func (m *Module) HealthHandler() http.Handler {
	return m.health
}

// Open opens the device node called name.
func (m *Module) Open(ctx context.Context, name string) (*File, error) {
	reg := m.Registration()
	if reg == nil {
		return nil, ErrNotRunning
	}
	dev, ok := reg.Device(name)
	if !ok {
		return nil, errors.Wrap(ErrNoSuchDevice, name)
	}
	return dev.Open(ctx)
}

// sharedBufferOps is the file operation table shared by every minor. All
// minors close over the same buffer, so the minor itself is not consulted.
type sharedBufferOps struct {
	buf *globalmem.SharedBuffer
}

func (o sharedBufferOps) Open(ctx context.Context, minor uint32) (api.File, error) {
	sess, err := globalmem.Open(o.buf)
	if err != nil {
		return nil, err
	}
	internalLogger.debugf("minor %d opened session %d", minor, sess.ID())
	return sess, nil
}
