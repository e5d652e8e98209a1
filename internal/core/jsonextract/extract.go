// Package jsonextract recovers JSON values embedded in free-form model output.
package jsonextract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

var (
	openingFence = regexp.MustCompile("^```[a-zA-Z0-9_-]*\\s*")
	closingFence = regexp.MustCompile("\\s*```$")
)

var ErrNoCandidate = fmt.Errorf("%w: no balanced JSON candidates found", domain.ErrMalformedResponse)

// NoParseableError reports that balanced spans were found but none decoded.
type NoParseableError struct {
	Candidates int
	Last       error
}

func (e *NoParseableError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("no parseable JSON among %d candidates", e.Candidates)
	}
	return fmt.Sprintf("no parseable JSON among %d candidates: %v", e.Candidates, e.Last)
}

func (e *NoParseableError) Unwrap() error { return domain.ErrMalformedResponse }

// Extract returns the first balanced {...} or [...] span of text that parses.
func Extract(text string) (any, error) {
	return first(text, func(any) bool { return true })
}

// ExtractObject is Extract restricted to JSON objects.
func ExtractObject(text string) (map[string]any, error) {
	v, err := first(text, func(v any) bool {
		_, ok := v.(map[string]any)
		return ok
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func first(text string, accept func(any) bool) (any, error) {
	candidates := Candidates(text)
	if len(candidates) == 0 {
		return nil, ErrNoCandidate
	}
	var last error
	for _, c := range candidates {
		var v any
		if err := json.Unmarshal([]byte(c), &v); err != nil {
			last = err
			continue
		}
		if accept(v) {
			return v, nil
		}
		last = fmt.Errorf("candidate is %T", v)
	}
	return nil, &NoParseableError{Candidates: len(candidates), Last: last}
}

// Candidates lists every minimal balanced span in source order, including
// spans nested inside earlier ones.
func Candidates(text string) []string {
	s := clean(text)
	mask := stringMask(s)

	var out []string
	for i := 0; i < len(s); i++ {
		if mask[i] || (s[i] != '{' && s[i] != '[') {
			continue
		}
		if end := balancedEnd(s, i); end > 0 {
			out = append(out, s[i:end+1])
		}
	}
	return out
}

func clean(text string) string {
	s := strings.ReplaceAll(text, "\u200b", "")
	s = strings.ReplaceAll(s, "\ufeff", "")
	s = strings.TrimSpace(s)

	// Only the fence token goes; a payload sharing its line stays.
	s = openingFence.ReplaceAllString(s, "")
	s = closingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// stringMask marks bytes that sit inside a quoted string, quotes included.
func stringMask(s string) []bool {
	mask := make([]bool, len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			mask[i] = true
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			mask[i] = true
		}
	}
	return mask
}

// balancedEnd returns the index closing the bracket opened at start, or -1.
func balancedEnd(s string, start int) int {
	stack := make([]byte, 0, 8)
	inString, escaped := false, false
	for j := start; j < len(s); j++ {
		c := s[j]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return j
			}
		}
	}
	return -1
}
