package validation

import (
	"math"
	"regexp"
	"strings"
)

// DuplicationWindow is the number of consecutive normalized lines compared
// when looking for duplicated blocks.
const DuplicationWindow = 4

var (
	operandToken  = regexp.MustCompile(`^[A-Za-z_]\w*$|^\d+(\.\d+)?$|^""$`)
	tokenSplitter = regexp.MustCompile(`[A-Za-z_]\w*|\d+(?:\.\d+)?|""|==|!=|<=|>=|:=|&&|\|\||\+=|-=|\*\*|//|->|[^\sA-Za-z_\d]`)
	keywords      = map[string]bool{
		"def": true, "func": true, "return": true, "if": true, "elif": true, "else": true,
		"for": true, "while": true, "and": true, "or": true, "not": true, "in": true,
		"try": true, "except": true, "finally": true, "with": true, "as": true,
		"import": true, "from": true, "class": true, "raise": true, "pass": true,
		"var": true, "const": true, "type": true, "struct": true, "range": true,
		"switch": true, "case": true, "default": true, "go": true, "defer": true,
		"package": true, "interface": true, "map": true, "lambda": true, "yield": true,
	}
)

// Halstead holds the token counts used for the maintainability index.
type Halstead struct {
	DistinctOperators int
	DistinctOperands  int
	TotalOperators    int
	TotalOperands     int
}

// Volume returns N * log2(n).
func (h Halstead) Volume() float64 {
	n := h.DistinctOperators + h.DistinctOperands
	total := h.TotalOperators + h.TotalOperands
	if n < 2 || total == 0 {
		return 0
	}
	return float64(total) * math.Log2(float64(n))
}

// CountHalstead tokenizes cleaned lines into operators and operands.
func CountHalstead(lines []string) Halstead {
	operators := make(map[string]bool)
	operands := make(map[string]bool)
	var h Halstead
	for _, line := range lines {
		for _, tok := range tokenSplitter.FindAllString(line, -1) {
			if keywords[tok] || !operandToken.MatchString(tok) {
				operators[tok] = true
				h.TotalOperators++
				continue
			}
			operands[tok] = true
			h.TotalOperands++
		}
	}
	h.DistinctOperators = len(operators)
	h.DistinctOperands = len(operands)
	return h
}

// MaintainabilityIndex returns the index normalized to [0,100]:
//
//	MI = max(0, (171 - 5.2 ln V - 0.23 CC - 16.2 ln LOC) * 100 / 171)
func MaintainabilityIndex(volume, complexity float64, loc int) float64 {
	if loc <= 0 {
		return 100
	}
	mi := 171.0 - 0.23*complexity - 16.2*math.Log(float64(loc))
	if volume > 0 {
		mi -= 5.2 * math.Log(volume)
	}
	mi = mi * 100 / 171
	return math.Max(0, math.Min(100, mi))
}

// DuplicationRatio returns the share of lines belonging to a window of
// DuplicationWindow normalized lines that occurs more than once.
func DuplicationRatio(lines []string) float64 {
	normalized := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if len(l) < 3 {
			// Braces and tiny lines would make every block look duplicated.
			continue
		}
		normalized = append(normalized, l)
	}
	if len(normalized) < 2*DuplicationWindow {
		return 0
	}

	seen := make(map[string]int)
	for i := 0; i+DuplicationWindow <= len(normalized); i++ {
		seen[strings.Join(normalized[i:i+DuplicationWindow], "\n")]++
	}

	duplicated := make([]bool, len(normalized))
	for i := 0; i+DuplicationWindow <= len(normalized); i++ {
		if seen[strings.Join(normalized[i:i+DuplicationWindow], "\n")] > 1 {
			for j := i; j < i+DuplicationWindow; j++ {
				duplicated[j] = true
			}
		}
	}

	count := 0
	for _, d := range duplicated {
		if d {
			count++
		}
	}
	return float64(count) / float64(len(normalized))
}
