// Package adapter provides adapters for plugin-chrdev integration with external systems.
package adapter

import (
	"go.opentelemetry.io/otel"

	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

const instrumentationScope = "github.com/srediag/plugin-chrdev"

// GlobalTelemetry returns buffer options that instrument sessions with the
// process-wide OpenTelemetry meter and tracer providers.
func GlobalTelemetry() []globalmem.BufferOption {
	return []globalmem.BufferOption{
		globalmem.WithMeter(otel.GetMeterProvider().Meter(instrumentationScope)),
		globalmem.WithTracer(otel.Tracer(instrumentationScope)),
	}
}
