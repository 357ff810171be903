package chrdev

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"

	"github.com/srediag/plugin-chrdev/api"
	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

// Registration owns a contiguous range of minors under one name. Each
// registered device gets the next minor and a node named name+minor.
type Registration struct {
	name       string
	minorStart uint32
	capacity   int
	metrics    *Metrics

	mu      sync.RWMutex
	devices []*Device
	byName  map[string]*Device

	files        cmap.ConcurrentMap[string, *File]
	nextFile     atomic.Uint64
	unregistered atomic.Bool
}

// RegistrationOption configures NewRegistration.
type RegistrationOption func(*Registration)

// WithMetrics records per-node metrics for files opened through the registration.
func WithMetrics(m *Metrics) RegistrationOption {
	return func(r *Registration) { r.metrics = m }
}

// NewRegistration reserves capacity minors starting at minorStart.
func NewRegistration(name string, minorStart uint32, capacity int, opts ...RegistrationOption) (*Registration, error) {
	if name == "" {
		return nil, errors.New("registration name must not be empty")
	}
	if capacity <= 0 {
		return nil, errors.Errorf("registration capacity must be positive, got %d", capacity)
	}
	r := &Registration{
		name:       name,
		minorStart: minorStart,
		capacity:   capacity,
		byName:     make(map[string]*Device, capacity),
		files:      cmap.New[*File](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name returns the registration name.
func (r *Registration) Name() string {
	return r.name
}

// Register adds a device served by ops under the next free minor.
func (r *Registration) Register(ops api.FileOperations) (*Device, error) {
	if ops == nil {
		return nil, errors.New("nil file operations")
	}
	if r.unregistered.Load() {
		return nil, ErrUnregistered
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.devices) >= r.capacity {
		return nil, errors.Wrapf(ErrRegistrationFull, "%s holds %d minors", r.name, r.capacity)
	}
	minor := r.minorStart + uint32(len(r.devices))
	dev := &Device{
		name:  r.name + strconv.FormatUint(uint64(minor), 10),
		minor: minor,
		ops:   ops,
		reg:   r,
	}
	r.devices = append(r.devices, dev)
	r.byName[dev.name] = dev
	internalLogger.debugf("registered %s (minor %d)", dev.name, minor)
	return dev, nil
}

// Device looks up a registered device by node name.
func (r *Registration) Device(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byName[name]
	return dev, ok
}

// Devices returns the registered devices in minor order.
func (r *Registration) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Device(nil), r.devices...)
}

// OpenFiles returns the number of files currently open through the registration.
func (r *Registration) OpenFiles() int {
	return r.files.Count()
}

// Unregistered reports whether Unregister was called.
func (r *Registration) Unregistered() bool {
	return r.unregistered.Load()
}

// Unregister rejects further opens and closes every file still open.
func (r *Registration) Unregister() error {
	if !r.unregistered.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	for id, f := range r.files.Items() {
		if err := f.Close(); err != nil && !errors.Is(err, globalmem.ErrInvalidState) {
			internalLogger.warnf("close file %s on %s failed: %v", id, f.dev.name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	internalLogger.infof("unregistered %s (%d minors)", r.name, len(r.Devices()))
	return firstErr
}

// Device is one registered device identity.
type Device struct {
	name  string
	minor uint32
	ops   api.FileOperations
	reg   *Registration
}

// Name returns the device node name.
func (d *Device) Name() string {
	return d.name
}

// Minor returns the device's minor number.
func (d *Device) Minor() uint32 {
	return d.minor
}

// Open maps an open of the device node to its file operations.
func (d *Device) Open(ctx context.Context) (*File, error) {
	if d.reg.unregistered.Load() {
		d.reg.metrics.failed(d.name, opOpen, ErrUnregistered)
		return nil, ErrUnregistered
	}
	inner, err := d.ops.Open(ctx, d.minor)
	if err != nil {
		d.reg.metrics.failed(d.name, opOpen, err)
		return nil, errors.WithMessagef(err, "open %s", d.name)
	}
	f := &File{
		File: inner,
		dev:  d,
		id:   strconv.FormatUint(d.reg.nextFile.Add(1), 10),
	}
	d.reg.files.Set(f.id, f)
	d.reg.metrics.fileOpened(d.name)
	if d.reg.unregistered.Load() {
		// lost a race with Unregister
		_ = f.Close()
		return nil, ErrUnregistered
	}
	return f, nil
}

// File is a handle opened through a Device.
type File struct {
	api.File
	dev    *Device
	id     string
	closed atomic.Bool
}

// ID returns the file's identifier within its registration.
func (f *File) ID() string {
	return f.id
}

// Device returns the device the file was opened through.
func (f *File) Device() *Device {
	return f.dev
}

// Read implements api.File.
func (f *File) Read(ctx context.Context, offset uint64, dst globalmem.IOBufferWriter) (int, error) {
	n, err := f.File.Read(ctx, offset, dst)
	f.dev.reg.metrics.transfer(f.dev.name, opRead, dst.Len(), n, err)
	return n, err
}

// Write implements api.File.
func (f *File) Write(ctx context.Context, offset uint64, src globalmem.IOBufferReader) (int, error) {
	n, err := f.File.Write(ctx, offset, src)
	f.dev.reg.metrics.transfer(f.dev.name, opWrite, src.Len(), n, err)
	return n, err
}

// Close implements api.File.
func (f *File) Close() error {
	err := f.File.Close()
	if f.closed.CompareAndSwap(false, true) {
		f.dev.reg.files.Remove(f.id)
		f.dev.reg.metrics.fileClosed(f.dev.name)
	}
	return err
}
