// Package api defines public API contracts for plugin-chrdev.
package api

// Health defines liveness and readiness probes.
type Health interface {
	Live() error
	Ready() error
}
