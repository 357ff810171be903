package globalmem

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
)

// State is the lifecycle state of a Session.
type State int32

const (
	// StateOpen is the state of a session returned by Open.
	StateOpen State = iota
	// StateClosed is the terminal state entered by Close.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is a per-open handle onto the shared buffer. It owns no data; every
// transfer happens in place while the buffer is locked.
type Session struct {
	buf   *SharedBuffer
	id    uint64
	state atomic.Int32
}

// Open creates a session on buf. It fails with ErrAllocation when buf is nil
// or its session limit is exhausted.
func Open(buf *SharedBuffer) (*Session, error) {
	if buf == nil {
		return nil, errors.Wrap(ErrAllocation, "no shared buffer")
	}
	if !buf.acquireSession() {
		return nil, errors.Wrapf(ErrAllocation, "session limit %d reached", buf.maxSessions)
	}
	return &Session{buf: buf, id: buf.nextID.Add(1)}, nil
}

// ID returns the session's identifier, unique per SharedBuffer.
func (s *Session) ID() uint64 {
	return s.id
}

// State returns the current state of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Buffer returns the shared buffer the session refers to.
func (s *Session) Buffer() *SharedBuffer {
	return s.buf
}

// Write copies up to src.Len() bytes from src into the buffer at offset and
// returns the number of bytes written. The count is smaller than src.Len()
// when the buffer ends first; that is not an error.
func (s *Session) Write(ctx context.Context, offset uint64, src IOBufferReader) (n int, err error) {
	if s.State() != StateOpen {
		return 0, errors.Wrapf(ErrInvalidState, "write on session %d", s.id)
	}
	requested := src.Len()
	ctx, span := s.buf.tel.start(ctx, opWrite, offset, requested)
	defer func() { s.buf.tel.finish(ctx, span, opWrite, requested, n, err) }()

	err = s.buf.Do(func(data []byte) error {
		room, err := remaining(len(data), offset)
		if err != nil {
			return err
		}
		if requested < 0 {
			return transferError(opWrite, errNegativeLen)
		}
		count := min(room, requested)
		if count == 0 {
			return nil
		}
		if err := src.ReadSlice(data[offset : offset+uint64(count)]); err != nil {
			return transferError(opWrite, err)
		}
		n = count
		return nil
	})
	return n, err
}

// Read copies up to dst.Len() bytes from the buffer at offset into dst and
// returns the number of bytes read. A read at offset Capacity returns zero
// and leaves dst untouched.
func (s *Session) Read(ctx context.Context, offset uint64, dst IOBufferWriter) (n int, err error) {
	if s.State() != StateOpen {
		return 0, errors.Wrapf(ErrInvalidState, "read on session %d", s.id)
	}
	requested := dst.Len()
	ctx, span := s.buf.tel.start(ctx, opRead, offset, requested)
	defer func() { s.buf.tel.finish(ctx, span, opRead, requested, n, err) }()

	err = s.buf.Do(func(data []byte) error {
		avail, err := remaining(len(data), offset)
		if err != nil {
			return err
		}
		if requested < 0 {
			return transferError(opRead, errNegativeLen)
		}
		count := min(avail, requested)
		if count == 0 {
			return nil
		}
		if err := dst.WriteSlice(data[offset : offset+uint64(count)]); err != nil {
			return transferError(opRead, err)
		}
		n = count
		return nil
	})
	return n, err
}

// ReadAt implements io.ReaderAt. A short read returns io.EOF.
func (s *Session) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(ErrInvalidOffset, "negative offset %d", off)
	}
	n, err := s.Read(context.Background(), uint64(off), UserSlice(p))
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// WriteAt implements io.WriterAt. A short write returns io.ErrShortWrite.
func (s *Session) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(ErrInvalidOffset, "negative offset %d", off)
	}
	n, err := s.Write(context.Background(), uint64(off), UserSlice(p))
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Close moves the session to StateClosed. Closing twice returns ErrInvalidState.
func (s *Session) Close() error {
	if !s.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) {
		return errors.Wrapf(ErrInvalidState, "close on session %d", s.id)
	}
	s.buf.releaseSession()
	return nil
}

// remaining returns the bytes between offset and the end of a buffer of the
// given capacity without underflowing.
func remaining(capacity int, offset uint64) (int, error) {
	if offset > uint64(capacity) {
		return 0, errors.Wrapf(ErrInvalidOffset, "offset %d, capacity %d", offset, capacity)
	}
	return capacity - int(offset), nil
}
