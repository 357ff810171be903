//go:build unix

package shm

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func mapAnonymous(size int) ([]byte, error) {
	addr, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}
	return addr, nil
}

func unmapAnonymous(addr []byte) error {
	if err := unix.Munmap(addr); err != nil {
		return errors.Wrap(err, "munmap")
	}
	return nil
}
