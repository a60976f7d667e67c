// Package observer provides OTEL-based observability for sandbox executions.
//
// It wraps an Engine with an instrumented version that emits traces and
// metrics via OpenTelemetry. Users export to any OTEL-compatible backend by
// setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/jerewy/codejoin-sandbox/observer"

// Instruments holds all OTEL instruments used by the observer wrapper.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Counters
	Executions           metric.Int64Counter
	Timeouts             metric.Int64Counter
	ValidationRejects    metric.Int64Counter
	ProvisioningFailures metric.Int64Counter

	// Histograms
	ExecDuration metric.Float64Histogram
	OutputBytes  metric.Int64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("codejoin-sandbox")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	meter := otel.Meter(scopeName)

	executions, err := meter.Int64Counter("sandbox.executions",
		metric.WithDescription("Sandbox execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	timeouts, err := meter.Int64Counter("sandbox.timeouts",
		metric.WithDescription("Executions killed at the deadline"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	validationRejects, err := meter.Int64Counter("sandbox.validation_rejects",
		metric.WithDescription("Requests rejected before provisioning"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	provisioningFailures, err := meter.Int64Counter("sandbox.provisioning_failures",
		metric.WithDescription("Executions that never reached the run phase"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	execDuration, err := meter.Float64Histogram("sandbox.duration",
		metric.WithDescription("Execution duration from injection to completion"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	outputBytes, err := meter.Int64Histogram("sandbox.output_bytes",
		metric.WithDescription("Captured stdout+stderr size per execution"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:               otel.Tracer(scopeName),
		Meter:                meter,
		Executions:           executions,
		Timeouts:             timeouts,
		ValidationRejects:    validationRejects,
		ProvisioningFailures: provisioningFailures,
		ExecDuration:         execDuration,
		OutputBytes:          outputBytes,
	}, nil
}
