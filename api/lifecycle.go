// Package api defines public API contracts for plugin-chrdev.
package api

import "context"

// Lifecycle defines module start and stop hooks.
type Lifecycle interface {
	Init(ctx context.Context) error
	Exit(ctx context.Context) error
}
