package globalmem

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/plugin-chrdev/internal/shm"
)

// Capacity is the fixed size of the shared buffer in bytes.
const Capacity = 0x1000

// SharedBuffer is the single fixed-capacity byte array backing the device.
// Every Session holds a reference to the same SharedBuffer; all access to the
// bytes happens while its mutex is held.
type SharedBuffer struct {
	mu     sync.Mutex
	region *shm.MappedRegion

	maxSessions int64
	sessions    atomic.Int64
	nextID      atomic.Uint64

	tel *telemetry
}

type bufferOptions struct {
	backing     shm.Backing
	maxSessions int
	meter       metric.Meter
	tracer      trace.Tracer
}

// BufferOption configures NewSharedBuffer.
type BufferOption func(*bufferOptions)

// WithBacking selects the memory backing of the buffer. The default is shm.BackingHeap.
func WithBacking(b shm.Backing) BufferOption {
	return func(o *bufferOptions) { o.backing = b }
}

// WithMaxSessions bounds the number of simultaneously open sessions. Zero means unbounded.
func WithMaxSessions(n int) BufferOption {
	return func(o *bufferOptions) { o.maxSessions = n }
}

// WithMeter sets the OpenTelemetry meter used by sessions on this buffer.
func WithMeter(m metric.Meter) BufferOption {
	return func(o *bufferOptions) { o.meter = m }
}

// WithTracer sets the OpenTelemetry tracer used by sessions on this buffer.
func WithTracer(t trace.Tracer) BufferOption {
	return func(o *bufferOptions) { o.tracer = t }
}

// NewSharedBuffer allocates a zeroed buffer of Capacity bytes.
func NewSharedBuffer(opts ...BufferOption) (*SharedBuffer, error) {
	var o bufferOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxSessions < 0 {
		return nil, errors.Errorf("invalid session limit %d", o.maxSessions)
	}
	tel, err := newTelemetry(o.meter, o.tracer)
	if err != nil {
		return nil, errors.Wrap(err, "create instruments")
	}
	region, err := shm.MapRegion(shm.MapOptions{Size: Capacity, Backing: o.backing})
	if err != nil {
		return nil, errors.Wrap(err, "allocate shared buffer")
	}
	return &SharedBuffer{
		region:      region,
		maxSessions: int64(o.maxSessions),
		tel:         tel,
	}, nil
}

// Cap returns the capacity of the buffer.
func (b *SharedBuffer) Cap() int {
	return Capacity
}

// Backing reports where the buffer's bytes live.
func (b *SharedBuffer) Backing() shm.Backing {
	return b.region.Backing()
}

// Sessions returns the number of sessions currently open on the buffer.
func (b *SharedBuffer) Sessions() int {
	return int(b.sessions.Load())
}

// MaxSessions returns the session limit, zero when unbounded.
func (b *SharedBuffer) MaxSessions() int {
	return int(b.maxSessions)
}

// Guard is an exclusive hold on the buffer returned by Lock. Bytes is for
// the goroutine that took the hold; Unlock may be called from any goroutine.
type Guard struct {
	b        *SharedBuffer
	data     []byte
	released atomic.Bool
}

// Lock blocks until the buffer is exclusively held by the caller.
// The returned Guard must be unlocked; prefer Do, which unlocks on every path.
func (b *SharedBuffer) Lock() *Guard {
	b.mu.Lock()
	return &Guard{b: b, data: b.region.Addr}
}

// Bytes returns the buffer contents. The slice must not be retained after Unlock.
// It is nil once the buffer has been released.
func (g *Guard) Bytes() []byte {
	return g.data
}

// Unlock releases the hold. Calling it more than once has no effect.
func (g *Guard) Unlock() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}
	g.data = nil
	g.b.mu.Unlock()
}

// Do runs fn with the buffer locked and unlocks when fn returns or panics.
func (b *SharedBuffer) Do(fn func(data []byte) error) error {
	g := b.Lock()
	defer g.Unlock()
	if g.data == nil {
		return ErrReleased
	}
	return fn(g.data)
}

// Release frees the backing memory. It waits for an in-flight transfer to finish;
// transfers attempted afterwards fail with ErrReleased.
func (b *SharedBuffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.region.Addr == nil {
		return nil
	}
	return shm.UnmapRegion(b.region)
}

func (b *SharedBuffer) acquireSession() bool {
	for {
		n := b.sessions.Load()
		if b.maxSessions > 0 && n >= b.maxSessions {
			return false
		}
		if b.sessions.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (b *SharedBuffer) releaseSession() {
	b.sessions.Add(-1)
}
