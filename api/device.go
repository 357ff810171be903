// Package api defines public API contracts for plugin-chrdev.
package api

import (
	"context"

	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

// File is an open handle on a device.
type File interface {
	Read(ctx context.Context, offset uint64, dst globalmem.IOBufferWriter) (int, error)
	Write(ctx context.Context, offset uint64, src globalmem.IOBufferReader) (int, error)
	Close() error
}

// FileOperations is the entry point table of a registered device. Open is
// called once per open request with the minor the request arrived through.
type FileOperations interface {
	Open(ctx context.Context, minor uint32) (File, error)
}

// FileOperationsFunc adapts a function to FileOperations.
type FileOperationsFunc func(ctx context.Context, minor uint32) (File, error)

// Open implements FileOperations.
func (f FileOperationsFunc) Open(ctx context.Context, minor uint32) (File, error) {
	return f(ctx, minor)
}

var _ File = (*globalmem.Session)(nil)
