package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/shiro-wallet/shirod/internal/interface/http"

// Telemetry opens a server span per request, continuing the trace found in the request
// headers, and records request count and latency. The span context is set as the user
// context so that handlers propagate it to the wallet service. Errors are resolved
// through the app error handler here so that the recorded status is the one sent.
func Telemetry(
	tp trace.TracerProvider, mp metric.MeterProvider, propagator propagation.TextMapPropagator,
) fiber.Handler {
	tracer := tp.Tracer(instrumentationName)
	meter := mp.Meter(instrumentationName)
	// nolint:errcheck
	requests, _ := meter.Int64Counter(
		"shirod.http.requests", metric.WithDescription("Number of served http requests"),
	)
	// nolint:errcheck
	latency, _ := meter.Float64Histogram(
		"shirod.http.request.duration",
		metric.WithDescription("Latency of served http requests"), metric.WithUnit("s"),
	)

	return func(c *fiber.Ctx) error {
		start := time.Now()

		carrier := propagation.MapCarrier{}
		c.Request().Header.VisitAll(func(key, value []byte) {
			carrier.Set(string(key), string(value))
		})
		ctx := propagator.Extract(context.Background(), carrier)

		ctx, span := tracer.Start(
			ctx, fmt.Sprintf("%s %s", c.Method(), c.Path()),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Method()),
				attribute.String("url.path", c.Path()),
			),
		)
		defer span.End()
		c.SetUserContext(ctx)

		if err := c.Next(); err != nil {
			span.RecordError(err)
			if err := c.App().ErrorHandler(c, err); err != nil {
				// nolint:errcheck
				c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			span.SetStatus(otelcodes.Error, fmt.Sprintf("status %d", status))
		}
		route := c.Route().Path
		span.SetName(fmt.Sprintf("%s %s", c.Method(), route))
		attrs := metric.WithAttributes(
			attribute.String("http.request.method", c.Method()),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)
		requests.Add(ctx, 1, attrs)
		latency.Record(ctx, time.Since(start).Seconds(), attrs)
		return nil
	}
}
