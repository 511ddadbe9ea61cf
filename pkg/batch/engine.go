// Package batch executes blocks of Cypher against a pooled graph connection
// and reports per-statement outcomes.
//
// A block goes through four stages:
//
//  1. The Gate rejects blocks containing destructive keywords outright.
//  2. The block is segmented into statements and comment markers.
//  3. One connection is acquired from the pool for the whole block.
//  4. The Executor runs every statement in order, isolating failures.
//
// The outcome is always a *Result, never an error: failures at any stage are
// folded into Result.Status and Result.Summary.
//
// Example:
//
//	eng := batch.New(p, batch.WithLogger(logger))
//	res := eng.Execute(ctx, block)
//	fmt.Println(res.Status, res.Summary)
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/orneryd/cypherbatch/pkg/graph"
	"github.com/orneryd/cypherbatch/pkg/statement"
)

// Acquirer hands out exclusive connections. *pool.Pool satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) (graph.Conn, error)
	Release(conn graph.Conn) error
}

// Recorder observes every finished batch. Errors are logged and otherwise
// ignored; a recorder can never change a batch outcome.
type Recorder interface {
	RecordBatch(ctx context.Context, block string, res *Result) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, block string, res *Result) error

func (f RecorderFunc) RecordBatch(ctx context.Context, block string, res *Result) error {
	return f(ctx, block, res)
}

// Option configures an Engine or Executor.
type Option func(*options)

type options struct {
	logger           *zap.Logger
	tracerProvider   trace.TracerProvider
	meterProvider    metric.MeterProvider
	gate             *Gate
	recorders        []Recorder
	maxErrorDetail   int
	statementTimeout time.Duration
	now              func() time.Time
	newRunID         func() string
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger:   zap.NewNop(),
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.gate == nil {
		o.gate = MustGate(DefaultDenylist)
	}
	return o
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithTracerProvider sets the tracer provider. Defaults to no-op.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to no-op.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithGate replaces the default DROP/DELETE/REMOVE gate.
func WithGate(g *Gate) Option { return func(o *options) { o.gate = g } }

// WithRecorders appends batch recorders, called in order after each batch.
func WithRecorders(r ...Recorder) Option {
	return func(o *options) { o.recorders = append(o.recorders, r...) }
}

// WithMaxErrorDetail caps driver error text per step, in runes.
// Negative disables the cap.
func WithMaxErrorDetail(n int) Option { return func(o *options) { o.maxErrorDetail = n } }

// WithStatementTimeout bounds each statement individually.
func WithStatementTimeout(d time.Duration) Option {
	return func(o *options) { o.statementTimeout = d }
}

// WithClock overrides time.Now. For tests.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithRunIDs overrides run ID generation. For tests.
func WithRunIDs(f func() string) Option { return func(o *options) { o.newRunID = f } }

// Engine is the batch orchestrator. Safe for concurrent use; concurrency is
// bounded by the Acquirer.
type Engine struct {
	pool      Acquirer
	gate      *Gate
	exec      *Executor
	recorders []Recorder
	logger    *zap.Logger
	tel       *telemetry
	now       func() time.Time
	newRunID  func() string
}

// New creates an Engine drawing connections from pool.
func New(pool Acquirer, opts ...Option) *Engine {
	o := buildOptions(opts)
	tel := newTelemetry(o.tracerProvider, o.meterProvider, o.logger)
	return &Engine{
		pool:      pool,
		gate:      o.gate,
		exec:      newExecutor(o.logger, tel, o.maxErrorDetail, o.statementTimeout),
		recorders: o.recorders,
		logger:    o.logger,
		tel:       tel,
		now:       o.now,
		newRunID:  o.newRunID,
	}
}

// Execute runs block and reports the outcome. It never returns nil.
//
// ctx bounds the wait for a connection. Once a connection is held the batch
// runs to completion regardless of ctx cancellation.
func (e *Engine) Execute(ctx context.Context, block string) (res *Result) {
	start := e.now()
	res = &Result{
		RunID:     e.newRunID(),
		StartedAt: start,
		Steps:     []Step{},
	}

	ctx, span := e.tel.tracer.Start(ctx, spanBatch, trace.WithAttributes(
		attribute.String("cypherbatch.run_id", res.RunID),
	))

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during batch", zap.String("run_id", res.RunID), zap.Any("panic", r))
			res.fail(fmt.Errorf("%w: %v", ErrPanic, r))
		}
		res.ElapsedMs = e.now().Sub(start).Milliseconds()
		e.finish(ctx, span, block, res)
	}()

	if strings.TrimSpace(block) == "" {
		res.skip()
		return res
	}

	if err := e.gate.Check(block); err != nil {
		res.fail(err)
		return res
	}

	units, err := statement.Segment(block)
	if err != nil {
		res.fail(err)
		return res
	}
	if len(statement.Statements(units)) == 0 {
		// Comments only: nothing to run, nothing failed.
		res.fold([]Step{})
		return res
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		res.fail(fmt.Errorf("acquiring connection: %w", err))
		return res
	}
	defer func() {
		if err := e.pool.Release(conn); err != nil {
			e.logger.Warn("releasing connection", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}()

	res.fold(e.exec.Run(ctx, conn, units))
	return res
}

func (e *Engine) finish(ctx context.Context, span trace.Span, block string, res *Result) {
	defer span.End()

	span.SetAttributes(
		attribute.String("cypherbatch.status", string(res.Status)),
		attribute.Int("cypherbatch.total", res.Total),
		attribute.Int("cypherbatch.failed", res.Failed),
	)
	switch res.Status {
	case StatusError:
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		span.SetStatus(codes.Error, res.Summary)
	default:
		span.SetStatus(codes.Ok, "")
	}
	e.tel.recordBatch(ctx, res)

	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.String("status", string(res.Status)),
		zap.Int("total", res.Total),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int64("elapsed_ms", res.ElapsedMs),
	}
	if res.Status == StatusError {
		e.logger.Warn("batch failed", append(fields, zap.String("summary", res.Summary))...)
	} else {
		e.logger.Info("batch executed", fields...)
	}

	for _, r := range e.recorders {
		if err := r.RecordBatch(ctx, block, res); err != nil {
			e.logger.Warn("recording batch", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}
}
