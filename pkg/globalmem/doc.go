// Package globalmem provides a fixed-size in-memory block device shared by every open session.
//
// A single SharedBuffer of Capacity bytes holds the device's data behind one mutex. Each open
// request produces a Session that reads and writes the buffer at explicit offsets. Transfers
// that run past the end of the buffer are clamped: they succeed with a short count instead of
// failing, and a read at offset Capacity reports end of data with a zero count.
//
// Sessions are instrumented with OpenTelemetry tracing and metrics; both default to no-op providers.
//
// Example usage:
//
//	buf, err := globalmem.NewSharedBuffer()
//	// ...
//	sess, err := globalmem.Open(buf)
//	// ...
//	n, err := sess.Write(ctx, 4090, globalmem.UserSlice("HELLOWORLD")) // n == 6
//
// Allocation of the backing memory is handled by internal/shm.
package globalmem
