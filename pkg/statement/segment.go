// Package statement splits LLM-authored Cypher blocks into executable units
// and sniffs the intent of each statement.
//
// The splitting is lexical, not a grammar: a block is read line by line, a
// trimmed line starting with "//" is a comment marker, and every other
// non-blank line is accumulated until one ends with ";".
//
// Example:
//
//	units, err := statement.Segment("// nodes\nMERGE (a:Topic {name:'Go'});")
//	// units[0] = Unit{Kind: UnitComment, Text: "// nodes", Line: 1}
//	// units[1] = Unit{Kind: UnitStatement, Text: "MERGE (a:Topic {name:'Go'});", Line: 2}
package statement

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// Terminator ends a statement.
	Terminator = ";"
	// CommentPrefix starts a comment-marker line.
	CommentPrefix = "//"
)

// ErrParse reports a block that cannot be segmented at all.
var ErrParse = errors.New("statement: unparseable block")

// UnitKind distinguishes comment markers from statements.
type UnitKind int

const (
	UnitStatement UnitKind = iota
	UnitComment
)

func (k UnitKind) String() string {
	switch k {
	case UnitComment:
		return "comment"
	case UnitStatement:
		return "statement"
	default:
		return "unknown"
	}
}

// Unit is one segmented piece of a block.
type Unit struct {
	Kind UnitKind
	// Text is the comment line, or the statement lines joined with "\n".
	Text string
	// Line is the 1-based source line the unit starts on.
	Line int
}

// IsComment reports whether u is a comment marker.
func (u Unit) IsComment() bool { return u.Kind == UnitComment }

// Segment converts block into an ordered sequence of units.
//
// Rules:
//   - lines are trimmed; blank lines are dropped
//   - a "//" line flushes any pending statement, then becomes a comment unit
//   - other lines accumulate; a line ending in ";" completes the statement
//   - a pending statement without ";" at end of input is still emitted
//
// An empty or whitespace-only block yields no units. A block that is not
// valid UTF-8 or contains NUL bytes fails with ErrParse.
func Segment(block string) ([]Unit, error) {
	if !utf8.ValidString(block) {
		return nil, fmt.Errorf("%w: block is not valid UTF-8", ErrParse)
	}
	if i := strings.IndexByte(block, 0); i >= 0 {
		return nil, fmt.Errorf("%w: NUL byte at offset %d", ErrParse, i)
	}

	var (
		units   []Unit
		pending []string
		start   int
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		units = append(units, Unit{
			Kind: UnitStatement,
			Text: strings.Join(pending, "\n"),
			Line: start,
		})
		pending = pending[:0]
	}

	for i, raw := range strings.Split(block, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, CommentPrefix):
			flush()
			units = append(units, Unit{Kind: UnitComment, Text: line, Line: i + 1})
		default:
			if len(pending) == 0 {
				start = i + 1
			}
			pending = append(pending, line)
			if strings.HasSuffix(line, Terminator) {
				flush()
			}
		}
	}
	flush()

	return units, nil
}

// Statements filters units down to statements, preserving order.
func Statements(units []Unit) []Unit {
	out := make([]Unit, 0, len(units))
	for _, u := range units {
		if !u.IsComment() {
			out = append(out, u)
		}
	}
	return out
}
