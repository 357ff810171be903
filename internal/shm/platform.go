// Package shm contains the backing storage helpers for the globalmem shared buffer.
package shm

import (
	"strings"

	"github.com/pkg/errors"
)

// Backing selects where the bytes of a MappedRegion live.
type Backing string

const (
	// BackingHeap keeps the region on the Go heap.
	BackingHeap Backing = "heap"
	// BackingMmap maps an anonymous private region outside the Go heap.
	BackingMmap Backing = "mmap"
)

var (
	// ErrInvalidSize is returned when a region of non-positive size is requested.
	ErrInvalidSize = errors.New("invalid region size")
	// ErrUnknownBacking is returned for a backing name that is not heap or mmap.
	ErrUnknownBacking = errors.New("unknown region backing")
	// ErrBackingUnsupported is returned when mmap backing is requested on a platform without it.
	ErrBackingUnsupported = errors.New("region backing not supported on this platform")
)

// MappedRegion represents the memory holding a device's bytes.
type MappedRegion struct {
	Addr    []byte
	backing Backing
}

// Backing reports how the region was allocated.
func (r *MappedRegion) Backing() Backing {
	return r.backing
}

// MapOptions defines options for allocating a region.
type MapOptions struct {
	Size    int
	Backing Backing
}

// ParseBacking converts a configuration string into a Backing.
// The empty string selects BackingHeap.
func ParseBacking(s string) (Backing, error) {
	switch Backing(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackingHeap:
		return BackingHeap, nil
	case BackingMmap:
		return BackingMmap, nil
	}
	return "", errors.Wrapf(ErrUnknownBacking, "%q", s)
}

// MapRegion allocates a zeroed region of opts.Size bytes.
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, ErrInvalidSize
	}
	switch opts.Backing {
	case "", BackingHeap:
		return &MappedRegion{Addr: make([]byte, opts.Size), backing: BackingHeap}, nil
	case BackingMmap:
		addr, err := mapAnonymous(opts.Size)
		if err != nil {
			return nil, err
		}
		return &MappedRegion{Addr: addr, backing: BackingMmap}, nil
	}
	return nil, errors.Wrapf(ErrUnknownBacking, "%q", opts.Backing)
}

// UnmapRegion releases the region. The region must not be used afterwards.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	addr := region.Addr
	region.Addr = nil
	if region.backing == BackingMmap {
		return unmapAnonymous(addr)
	}
	return nil
}
