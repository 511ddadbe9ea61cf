package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/orneryd/cypherbatch/pkg/graph"
	"github.com/orneryd/cypherbatch/pkg/statement"
)

// DefaultMaxErrorDetail is the rune limit applied to driver error text
// copied into a Step.
const DefaultMaxErrorDetail = 150

// Executor runs segmented statements one by one on a single connection and
// turns every outcome into a Step. A failing statement never stops the ones
// after it.
type Executor struct {
	logger           *zap.Logger
	tel              *telemetry
	maxErrorDetail   int
	statementTimeout time.Duration
}

func newExecutor(logger *zap.Logger, tel *telemetry, maxDetail int, timeout time.Duration) *Executor {
	if maxDetail == 0 {
		maxDetail = DefaultMaxErrorDetail
	}
	return &Executor{
		logger:           logger,
		tel:              tel,
		maxErrorDetail:   maxDetail,
		statementTimeout: timeout,
	}
}

// Run executes every statement unit in order on conn and returns one Step per
// statement. Comment units only label the statements that follow them.
//
// Statements run on a context detached from ctx's cancellation: once a batch
// has a connection it always runs to completion and reports every step.
// ctx still supplies trace parents and values.
func (x *Executor) Run(ctx context.Context, conn graph.Conn, units []statement.Unit) []Step {
	steps := make([]Step, 0, len(units))
	runCtx := context.WithoutCancel(ctx)

	var section string
	n := 0
	for _, u := range units {
		if u.IsComment() {
			section = u.Text
			continue
		}
		n++
		step := x.runOne(runCtx, conn, n, u)
		step.Section = section
		steps = append(steps, step)
	}
	return steps
}

func (x *Executor) runOne(ctx context.Context, conn graph.Conn, n int, u statement.Unit) Step {
	kind := statement.Classify(u.Text)
	step := Step{
		Step:      n,
		Statement: u.Text,
		Kind:      kind,
	}

	ctx, span := x.tel.tracer.Start(ctx, spanStatement, trace.WithAttributes(
		attribute.Int("cypherbatch.step", n),
		attribute.Int("cypherbatch.line", u.Line),
		attribute.String("cypherbatch.kind", string(kind)),
	))
	defer span.End()

	if x.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.statementTimeout)
		defer cancel()
	}

	res, err := runStatement(ctx, conn, u.Text)
	if err != nil {
		x.applyFailure(&step, err)
	} else {
		rows := affectedRows(kind, res)
		step.Status = StepSuccess
		step.Message = successMessage(rows)
		step.AffectedRows = &rows
	}

	if step.Status == StepError {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(step.Failure))
		x.logger.Warn("statement failed",
			zap.Int("step", n),
			zap.Int("line", u.Line),
			zap.String("kind", string(kind)),
			zap.String("failure", string(step.Failure)),
			zap.String("error", step.Error))
	} else {
		span.SetStatus(codes.Ok, "")
		x.logger.Debug("statement executed",
			zap.Int("step", n),
			zap.String("kind", string(kind)),
			zap.String("failure", string(step.Failure)))
	}
	x.tel.recordStep(ctx, step)
	return step
}

// runStatement calls conn.Run, turning a panic into a *statementPanic so the
// statements after it still run.
func runStatement(ctx context.Context, conn graph.Conn, text string) (res *graph.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &statementPanic{value: r}
		}
	}()
	return conn.Run(ctx, text)
}

// statementPanic is a panic raised by a Conn while running one statement.
type statementPanic struct {
	value any
}

func (p *statementPanic) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func successMessage(rows int) string {
	if rows == 1 {
		return "executed successfully (1 row affected)"
	}
	return fmt.Sprintf("executed successfully (%d rows affected)", rows)
}

func (x *Executor) applyFailure(step *Step, err error) {
	var sp *statementPanic
	if errors.As(err, &sp) {
		step.Failure = FailureExecution
	} else {
		step.Failure = ClassifyFailure(step.Kind, err)
	}
	switch step.Failure {
	case FailureConstraintExists:
		step.Status = StepSuccess
		step.Message = "constraint already exists, skipped"
	case FailureConstraintViolation:
		step.Status = StepError
		step.Message = "constraint validation failed: a matching entity may already exist with conflicting property values"
		step.Error = truncate(err.Error(), x.maxErrorDetail)
	default:
		step.Status = StepError
		step.Message = "execution failed"
		step.Error = truncate(err.Error(), x.maxErrorDetail)
	}
}

// affectedRows is the best-effort row count for a successful statement:
// summed update counters for writes, returned records otherwise.
func affectedRows(kind statement.Kind, res *graph.Result) int {
	if res == nil {
		return 0
	}
	if kind.IsWrite() && res.Counters != nil {
		return res.Counters.Total()
	}
	return res.RowCount()
}
