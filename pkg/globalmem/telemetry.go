package globalmem

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/plugin-chrdev/pkg/globalmem"

const (
	opRead  = "read"
	opWrite = "write"
)

type telemetry struct {
	tracer trace.Tracer
	bytes  metric.Int64Counter
	short  metric.Int64Counter
}

func newTelemetry(meter metric.Meter, tracer trace.Tracer) (*telemetry, error) {
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	bytes, err := meter.Int64Counter("globalmem.bytes",
		metric.WithDescription("Bytes transferred between sessions and the shared buffer."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	short, err := meter.Int64Counter("globalmem.short_transfers",
		metric.WithDescription("Transfers clamped by the end of the shared buffer."))
	if err != nil {
		return nil, err
	}
	return &telemetry{tracer: tracer, bytes: bytes, short: short}, nil
}

func (t *telemetry) start(ctx context.Context, op string, offset uint64, requested int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "globalmem."+op, trace.WithAttributes(
		attribute.Int64("globalmem.offset", int64(offset)),
		attribute.Int("globalmem.requested", requested),
	))
}

func (t *telemetry) finish(ctx context.Context, span trace.Span, op string, requested, n int, err error) {
	defer span.End()
	span.SetAttributes(attribute.Int("globalmem.transferred", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	opAttr := metric.WithAttributes(attribute.String("op", op))
	t.bytes.Add(ctx, int64(n), opAttr)
	if n < requested {
		t.short.Add(ctx, 1, opAttr)
	}
}
