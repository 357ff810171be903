package chrdev

import (
	"github.com/pkg/errors"
)

var (
	// ErrRegistrationFull is returned by Register once every minor is taken.
	ErrRegistrationFull = errors.New("no free minor in registration")
	// ErrUnregistered is returned when opening a device whose registration was torn down.
	ErrUnregistered = errors.New("registration torn down")
	// ErrNoSuchDevice is returned when a device node name is unknown.
	ErrNoSuchDevice = errors.New("no such device")
	// ErrNotRunning is reported by the module before Init and after Exit.
	ErrNotRunning = errors.New("module not running")
)
