package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	sandbox "github.com/jerewy/codejoin-sandbox"
)

// Executor is the engine surface the wrapper instruments. *sandbox.Engine
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error)
	Languages() []sandbox.LanguageInfo
	Health() sandbox.HealthSnapshot
}

// ObservedEngine wraps an Executor to emit a sandbox.execute span and
// metrics per execution. Inner operations inherit the span through context
// propagation.
type ObservedEngine struct {
	inner Executor
	inst  *Instruments
}

// WrapEngine returns an instrumented Executor that emits execution telemetry.
func WrapEngine(inner Executor, inst *Instruments) *ObservedEngine {
	return &ObservedEngine{inner: inner, inst: inst}
}

func (o *ObservedEngine) Languages() []sandbox.LanguageInfo { return o.inner.Languages() }
func (o *ObservedEngine) Health() sandbox.HealthSnapshot    { return o.inner.Health() }

// Execute wraps the inner engine's Execute, emitting one span per execution.
// Compile errors, runtime errors, and timeouts are successful spans with a
// non-ok status attribute; only infrastructure errors mark the span failed.
func (o *ObservedEngine) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "sandbox.execute", trace.WithAttributes(
		AttrLanguage.String(req.Language),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := executionStatus(result, err)

	span.SetAttributes(
		AttrStatus.String(status),
		AttrTimedOut.Bool(result.TimedOut),
		AttrTruncated.Bool(result.Truncated),
	)
	if result.Phase != "" {
		span.SetAttributes(AttrPhase.String(string(result.Phase)))
	}
	if result.ExitCode != nil {
		span.SetAttributes(AttrExitCode.Int(*result.ExitCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		AttrLanguage.String(req.Language),
		attribute.String("status", status),
	)
	o.inst.Executions.Add(ctx, 1, attrs)
	o.inst.ExecDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLanguage.String(req.Language),
	))

	switch {
	case err == nil && result.TimedOut:
		o.inst.Timeouts.Add(ctx, 1, metric.WithAttributes(AttrLanguage.String(req.Language)))
	case sandbox.IsValidation(err):
		o.inst.ValidationRejects.Add(ctx, 1)
	case sandbox.IsProvisioning(err):
		o.inst.ProvisioningFailures.Add(ctx, 1, metric.WithAttributes(AttrLanguage.String(req.Language)))
	}
	if err == nil {
		o.inst.OutputBytes.Record(ctx, int64(len(result.Stdout)+len(result.Stderr)), metric.WithAttributes(
			AttrLanguage.String(req.Language),
		))
	}

	return result, err
}

// executionStatus folds a result and error into one status label.
func executionStatus(result sandbox.Result, err error) string {
	switch {
	case sandbox.IsValidation(err):
		return "invalid"
	case sandbox.IsProvisioning(err):
		return "provisioning_failed"
	case err != nil:
		return "error"
	case result.TimedOut:
		return "timeout"
	case result.Success:
		return "ok"
	case result.Phase == sandbox.PhaseCompile:
		return "compile_error"
	default:
		return "runtime_error"
	}
}

// compile-time check
var _ Executor = (*ObservedEngine)(nil)
