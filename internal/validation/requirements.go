package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "into": true, "must": true, "should": true, "will": true, "shall": true,
	"create": true, "make": true, "build": true, "write": true, "implement": true,
	"function": true, "using": true, "use": true, "handle": true, "support": true,
	"cases": true, "case": true, "when": true, "each": true, "all": true, "any": true,
}

// RequirementsValidator checks that each requirement is reflected in the code
// by at least one of its keywords. It reports gaps as recommendations and only
// fails when Strict is set.
type RequirementsValidator struct {
	Strict bool
}

// Keywords returns the significant lowercase words of a requirement.
func Keywords(text string) []string {
	normalized := NormalizeText(text)
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		w = stem(w)
		if len(w) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func stem(w string) string {
	switch {
	case strings.HasSuffix(w, "sses"):
		return strings.TrimSuffix(w, "es")
	case strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "s"):
		return strings.TrimSuffix(w, "s")
	}
	return w
}

// NormalizeText lowercases text and collapses punctuation into single spaces.
func NormalizeText(text string) string {
	text = strings.ToLower(text)

	var builder strings.Builder
	prevSpace := true
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			builder.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			builder.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(builder.String())
}

// Validate scores the share of requirements whose keywords appear in code.
func (v *RequirementsValidator) Validate(requirements []string, code string) core.ValidationResult {
	res := core.ValidationResult{
		Passed:          true,
		Score:           1,
		Issues:          []string{},
		Recommendations: []string{},
	}
	if len(requirements) == 0 {
		return res
	}

	haystack := strings.ToLower(code)
	covered := 0
	for _, req := range requirements {
		words := Keywords(req)
		hit := len(words) == 0
		for _, w := range words {
			if strings.Contains(haystack, w) {
				hit = true
				break
			}
		}
		if hit {
			covered++
			continue
		}
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Requirement may not be addressed: %s", req))
	}

	res.Score = float64(covered) / float64(len(requirements))
	if v.Strict && covered < len(requirements) {
		res.Passed = false
		res.Issues = append(res.Issues,
			fmt.Sprintf("%d of %d requirements not reflected in code", len(requirements)-covered, len(requirements)))
	}
	return res
}
