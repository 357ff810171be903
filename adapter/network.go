// Package adapter provides adapters for plugin-chrdev integration with external systems.
package adapter

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Listen opens a TCP listener on address. While the address is still held,
// typically by the process being replaced on restart, it retries with
// exponential backoff until maxElapsed has passed or ctx is done.
func Listen(ctx context.Context, address string, maxElapsed time.Duration) (net.Listener, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = maxElapsed

	var (
		ln net.Listener
		lc net.ListenConfig
	)
	op := func() error {
		var err error
		ln, err = lc.Listen(ctx, "tcp", address)
		if err != nil && !errors.Is(err, syscall.EADDRINUSE) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, errors.Wrapf(err, "listen on %s", address)
	}
	return ln, nil
}
