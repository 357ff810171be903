package globalmem

import (
	"github.com/pkg/errors"
)

// IOBufferReader is a caller-provided source of bytes for Session.Write.
type IOBufferReader interface {
	// Len returns the number of bytes the caller offers.
	Len() int
	// ReadSlice fills dst with the next len(dst) bytes of the source.
	ReadSlice(dst []byte) error
}

// IOBufferWriter is a caller-provided sink of bytes for Session.Read.
type IOBufferWriter interface {
	// Len returns the number of bytes the caller can accept.
	Len() int
	// WriteSlice stores src at the start of the sink.
	WriteSlice(src []byte) error
}

var (
	errShortSource = errors.New("source shorter than requested slice")
	errShortSink   = errors.New("sink shorter than provided slice")
	errNegativeLen = errors.New("negative buffer length")
)

// UserSlice adapts a plain byte slice to both IOBufferReader and IOBufferWriter.
type UserSlice []byte

// Len implements IOBufferReader and IOBufferWriter.
func (s UserSlice) Len() int {
	return len(s)
}

// ReadSlice implements IOBufferReader.
func (s UserSlice) ReadSlice(dst []byte) error {
	if len(dst) > len(s) {
		return errShortSource
	}
	copy(dst, s)
	return nil
}

// WriteSlice implements IOBufferWriter.
func (s UserSlice) WriteSlice(src []byte) error {
	if len(src) > len(s) {
		return errShortSink
	}
	copy(s, src)
	return nil
}
