package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MentionMatcher detects bot mentions in message text using operator-supplied
// regular expressions.
type MentionMatcher struct {
	patterns []*regexp.Regexp
}

// NewMentionMatcher compiles patterns. Blank patterns are ignored; invalid
// ones are skipped and reported in the returned error while the matcher still
// holds every valid pattern.
func NewMentionMatcher(patterns []string) (*MentionMatcher, error) {
	m := &MentionMatcher{}
	var errs []error
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		re, err := regexp.Compile(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("mention pattern %q: %w", raw, err))
			continue
		}
		m.patterns = append(m.patterns, re)
	}
	return m, errors.Join(errs...)
}

// Match reports whether any pattern matches text. A nil matcher never matches.
func (m *MentionMatcher) Match(text string) bool {
	if m == nil || strings.TrimSpace(text) == "" {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (m *MentionMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}
