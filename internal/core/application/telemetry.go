package application

import (
	"context"

	"github.com/shiro-wallet/shirod/internal/core/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/shiro-wallet/shirod/internal/core/application"

// WithTracerProvider replaces the global tracer provider used for the wallet operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *service) {
		s.tracer = tp.Tracer(instrumentationName)
	}
}

// WithMeterProvider replaces the global meter provider used for the transfer metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *service) {
		s.meter = mp.Meter(instrumentationName)
	}
}

func (s *service) initInstruments() {
	if s.tracer == nil {
		s.tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	// nolint:errcheck
	s.transitions, _ = s.meter.Int64Counter(
		"shirod.transfer.transitions",
		metric.WithDescription("Number of transfer status changes"),
	)
}

// startSpan opens the span of a wallet operation. The returned func ends it and
// marks it failed if the operation returned an error.
func (s *service) startSpan(
	ctx context.Context, name string, attrs ...attribute.KeyValue,
) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.End()
	}
}

func (s *service) recordTransition(t *domain.Transfer) {
	s.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", string(t.Kind)),
		attribute.String("direction", string(t.Direction)),
		attribute.String("status", string(t.Status)),
	))
}
