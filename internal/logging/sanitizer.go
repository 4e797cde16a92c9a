package logging

import (
	"regexp"
	"sync"
)

// minSecretLen keeps short values such as "ok" from blanking log lines.
const minSecretLen = 6

// Sanitizer redacts credentials from log output: well-known key formats
// plus any literal secrets registered at runtime.
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Anthropic before OpenAI so the longer prefix wins
		`sk-ant-[a-zA-Z0-9-]{40,}`,
		`sk-[A-Za-z0-9]{20,}`,
		`AIza[a-zA-Z0-9_-]{35}`,
		`gh[pousr]_[A-Za-z0-9]{36}`,
		`AKIA[0-9A-Z]{16}`,
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)password["'\s:=]+[^\s"']{8,}`,
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.patterns = append(s.patterns, re)
	s.mu.Unlock()
	return nil
}

// AddSecret redacts every occurrence of value. Values shorter than
// minSecretLen are ignored.
func (s *Sanitizer) AddSecret(value string) {
	if len(value) < minSecretLen {
		return
	}
	re := regexp.MustCompile(regexp.QuoteMeta(value))
	s.mu.Lock()
	s.patterns = append(s.patterns, re)
	s.mu.Unlock()
}
