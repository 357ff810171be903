// Package api defines public API contracts for plugin-chrdev.
package api

// Transport defines a request transport in front of registered devices.
type Transport interface {
	Start() error
	Stop() error
}
