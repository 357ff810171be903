//go:build !unix

package shm

func mapAnonymous(size int) ([]byte, error) {
	return nil, ErrBackingUnsupported
}

func unmapAnonymous(addr []byte) error {
	return ErrBackingUnsupported
}
