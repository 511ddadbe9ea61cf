package statement

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```cypher\\s*\\n*(.*?)\\n*```")

// ExtractFenced returns the body of the first ```cypher fenced block in an
// LLM response, with lines trimmed and blank lines removed. Comments are
// kept: they become section markers in the execution report.
//
// It returns "" when text has no fenced cypher block or the block is empty.
func ExtractFenced(text string) string {
	m := fencedBlock.FindStringSubmatch(text)
	if m == nil {
		return ""
	}

	body := strings.TrimSpace(m[1])
	if body == "" {
		return ""
	}

	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
