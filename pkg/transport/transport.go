// Package transport carries file operation requests to registered devices:
// a queued dispatcher that runs them on a worker pool, and an HTTP surface
// that maps device node requests onto the dispatcher.
package transport

import (
	"context"

	"github.com/pkg/errors"

	"github.com/srediag/plugin-chrdev/pkg/chrdev"
)

// Op is a file operation carried by a Request.
type Op int

const (
	// OpRead reads len(Request.Data) bytes at Request.Offset into Request.Data.
	OpRead Op = iota + 1
	// OpWrite writes Request.Data at Request.Offset.
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}
	return "unknown"
}

// Request is one open, transfer, close cycle on a device node.
type Request struct {
	Node   string
	Op     Op
	Offset uint64
	Data   []byte
}

// Response is the outcome of a Request. For reads Data holds the bytes read.
type Response struct {
	N    int
	Data []byte
	Err  error
}

// Opener opens device nodes by name. *chrdev.Module implements it.
type Opener interface {
	Open(ctx context.Context, name string) (*chrdev.File, error)
}

var (
	// ErrStopped is returned for requests made after or cut off by Stop.
	ErrStopped = errors.New("dispatcher stopped")
	// ErrUnknownOp is returned for a Request with an unsupported Op.
	ErrUnknownOp = errors.New("unknown operation")
)
