// Package adapter provides adapters for plugin-chrdev integration with external systems.
package adapter

import (
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/plugin-chrdev/api"
)

// NewHealthHandler exposes h on the /live and /ready endpoints. When reg is
// not nil, check results are also exported as gauges under namespace.
func NewHealthHandler(h api.Health, reg prometheus.Registerer, namespace string) healthcheck.Handler {
	var handler healthcheck.Handler
	if reg != nil {
		handler = healthcheck.NewMetricsHandler(reg, namespace)
	} else {
		handler = healthcheck.NewHandler()
	}
	handler.AddLivenessCheck("module", h.Live)
	handler.AddReadinessCheck("module", h.Ready)
	return handler
}
