package statement

import "regexp"

// Kind is the sniffed intent of a statement. It feeds the execution report
// and failure classification; it says nothing about whether the statement
// is valid Cypher.
type Kind string

const (
	KindConstraint   Kind = "constraint"
	KindNode         Kind = "node"
	KindRelationship Kind = "relationship"
	KindLookup       Kind = "lookup"
	KindOther        Kind = "other"
)

var (
	constraintKeyword = regexp.MustCompile(`(?i)\bCREATE\s+CONSTRAINT\b`)
	// CREATE only counts when a pattern follows, so CREATE INDEX stays other.
	mergeKeyword  = regexp.MustCompile(`(?i)\bMERGE\b|\bCREATE\s*\(`)
	lookupKeyword = regexp.MustCompile(`(?i)\bMATCH\b`)

	// -[...]- segments, or bare --> / <-- arrows.
	relationshipShape = regexp.MustCompile(`-\[[^\]]*\]-|->|<-`)
)

// Classify assigns a Kind using case-insensitive keyword search.
//
// Precedence, first match wins:
//  1. CREATE CONSTRAINT                         -> constraint
//  2. MERGE/CREATE (...) plus a relationship    -> relationship
//  3. MERGE/CREATE (...)                        -> node
//  4. MATCH                                     -> lookup
//  5. anything else                             -> other
func Classify(text string) Kind {
	switch {
	case constraintKeyword.MatchString(text):
		return KindConstraint
	case mergeKeyword.MatchString(text) && relationshipShape.MatchString(text):
		return KindRelationship
	case mergeKeyword.MatchString(text):
		return KindNode
	case lookupKeyword.MatchString(text):
		return KindLookup
	default:
		return KindOther
	}
}

// IsWrite reports whether statements of this kind mutate the graph.
func (k Kind) IsWrite() bool {
	return k == KindConstraint || k == KindNode || k == KindRelationship
}
