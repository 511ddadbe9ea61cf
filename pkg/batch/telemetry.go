package batch

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/orneryd/cypherbatch/pkg/batch"

// Span and instrument names.
const (
	spanBatch     = "cypherbatch.batch"
	spanStatement = "cypherbatch.statement"

	metricStatements    = "cypherbatch.statements"
	metricBatches       = "cypherbatch.batches"
	metricBatchDuration = "cypherbatch.batch.duration"
)

// telemetry bundles the tracer and instruments used by the executor and
// engine. Zero providers resolve to no-op implementations.
type telemetry struct {
	tracer     trace.Tracer
	statements metric.Int64Counter
	batches    metric.Int64Counter
	duration   metric.Float64Histogram
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, logger *zap.Logger) *telemetry {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	if t.statements, err = meter.Int64Counter(metricStatements,
		metric.WithDescription("Statements executed, by kind and outcome"),
		metric.WithUnit("{statement}")); err != nil {
		logger.Warn("creating statement counter", zap.Error(err))
		t.statements = metricnoop.Int64Counter{}
	}
	if t.batches, err = meter.Int64Counter(metricBatches,
		metric.WithDescription("Batches executed, by status"),
		metric.WithUnit("{batch}")); err != nil {
		logger.Warn("creating batch counter", zap.Error(err))
		t.batches = metricnoop.Int64Counter{}
	}
	if t.duration, err = meter.Float64Histogram(metricBatchDuration,
		metric.WithDescription("Wall time of a batch"),
		metric.WithUnit("ms")); err != nil {
		logger.Warn("creating batch duration histogram", zap.Error(err))
		t.duration = metricnoop.Float64Histogram{}
	}
	return t
}

func (t *telemetry) recordStep(ctx context.Context, s Step) {
	t.statements.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(s.Kind)),
		attribute.String("status", string(s.Status)),
		attribute.String("failure", string(s.Failure)),
	))
}

func (t *telemetry) recordBatch(ctx context.Context, res *Result) {
	attrs := metric.WithAttributes(attribute.String("status", string(res.Status)))
	t.batches.Add(ctx, 1, attrs)
	t.duration.Record(ctx, float64(res.ElapsedMs), attrs)
}
