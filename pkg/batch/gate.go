package batch

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultDenylist holds the keywords rejected when no denylist is configured.
var DefaultDenylist = []string{"DROP", "DELETE", "REMOVE"}

// Gate rejects whole blocks that contain destructive keywords before any
// statement runs. It scans the raw block once, comments included.
type Gate struct {
	rules []denyRule
}

type denyRule struct {
	keyword string
	re      *regexp.Regexp
}

// NewGate compiles keywords into case-insensitive whole-word matchers.
// Multi-word keywords ("DETACH DELETE") match any whitespace between words.
// An empty list yields a gate that accepts everything.
func NewGate(keywords []string) (*Gate, error) {
	g := &Gate{}
	for _, kw := range keywords {
		words := strings.Fields(kw)
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		pattern := strings.Join(words, `\s+`)
		if isWordRune(firstRune(kw)) {
			pattern = `\b` + pattern
		}
		if isWordRune(lastRune(kw)) {
			pattern = pattern + `\b`
		}

		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling denylist keyword %q: %w", kw, err)
		}
		g.rules = append(g.rules, denyRule{keyword: strings.Join(strings.Fields(kw), " "), re: re})
	}
	return g, nil
}

// MustGate is NewGate that panics on error. For package-level defaults.
func MustGate(keywords []string) *Gate {
	g, err := NewGate(keywords)
	if err != nil {
		panic(err)
	}
	return g
}

// Check returns a *ForbiddenError for the earliest denylisted keyword in
// block, or nil when the block is allowed.
func (g *Gate) Check(block string) error {
	if g == nil {
		return nil
	}

	first := -1
	var hit string
	for _, r := range g.rules {
		loc := r.re.FindStringIndex(block)
		if loc == nil {
			continue
		}
		if first == -1 || loc[0] < first {
			first = loc[0]
			hit = r.keyword
		}
	}
	if first == -1 {
		return nil
	}

	return &ForbiddenError{
		Keyword: hit,
		Line:    strings.Count(block[:first], "\n") + 1,
	}
}

// Keywords returns the configured keywords.
func (g *Gate) Keywords() []string {
	out := make([]string, 0, len(g.rules))
	for _, r := range g.rules {
		out = append(out, r.keyword)
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	s = strings.TrimSpace(s)
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}
