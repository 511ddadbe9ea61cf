package batch

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/orneryd/cypherbatch/pkg/statement"
)

var (
	// ErrForbiddenOperation is wrapped by *ForbiddenError when the safety gate
	// rejects a block.
	ErrForbiddenOperation = errors.New("forbidden operation")

	// ErrPanic wraps a panic recovered while running a batch.
	ErrPanic = errors.New("batch: panic during execution")
)

// ForbiddenError reports the denylisted keyword that rejected a block.
type ForbiddenError struct {
	Keyword string
	Line    int
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden operation: %q on line %d; destructive statements are not executed", e.Keyword, e.Line)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbiddenOperation }

// FailureKind classifies why a statement did not simply succeed.
type FailureKind string

const (
	// FailureNone marks a plain success.
	FailureNone FailureKind = ""
	// FailureConstraintExists is an idempotent constraint declaration that
	// found its constraint already in place. Reported as success.
	FailureConstraintExists FailureKind = "constraint_exists"
	// FailureConstraintViolation is a write rejected by a uniqueness (or
	// other) constraint, usually an existing entity with conflicting values.
	FailureConstraintViolation FailureKind = "constraint_violation"
	// FailureExecution is any other statement failure.
	FailureExecution FailureKind = "execution_failure"
)

// ClassifyFailure maps a statement error onto the failure taxonomy by
// inspecting its text. Neo4j errors carry their status code in the text,
// e.g. Neo.ClientError.Schema.ConstraintValidationFailed.
//
// "Already exists" only counts for constraint declarations.
func ClassifyFailure(kind statement.Kind, err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	msg := strings.ToLower(err.Error())

	if kind == statement.KindConstraint &&
		(strings.Contains(msg, "already exists") || strings.Contains(msg, "alreadyexists")) {
		return FailureConstraintExists
	}
	if strings.Contains(msg, "constraintvalidationfailed") ||
		strings.Contains(msg, "constraint violation") {
		return FailureConstraintViolation
	}
	return FailureExecution
}

// truncate shortens s to at most limit runes, marking the cut with "...".
// limit <= 0 disables truncation.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
