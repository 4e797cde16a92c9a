// Package validation computes code and test quality metrics from source text.
//
// The analysis is structural: functions are located by their `def` or `func`
// headers, and decision points, statements and tokens are counted line by
// line. No language toolchain is required.
package validation

import (
	"regexp"
	"strings"
)

var (
	pyFuncPattern = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`)
	goFuncPattern = regexp.MustCompile(`^(\s*)func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)\s*[\[(]`)

	stringLiteral = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|` + "`[^`]*`")
	lineComment   = regexp.MustCompile(`(#|//).*$`)

	decisionWords = regexp.MustCompile(`\b(if|elif|for|while|and|or|except|case|catch)\b`)
	decisionOps   = regexp.MustCompile(`&&|\|\||\?`)
)

// Function is one function located in a source file.
type Function struct {
	Name       string
	StartLine  int
	Lines      []string // cleaned body lines, header excluded
	Statements int
	Decisions  int
}

// Complexity returns the cyclomatic complexity of the function.
func (f Function) Complexity() int {
	return 1 + f.Decisions
}

// Source is a parsed source file.
type Source struct {
	Raw       []string
	Code      []string // cleaned, non-blank lines
	Functions []Function
}

// Parse scans code for functions and cleaned lines.
func Parse(code string) Source {
	raw := strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")
	src := Source{Raw: raw}

	cleaned := make([]string, len(raw))
	for i, line := range raw {
		cleaned[i] = cleanLine(line)
		if strings.TrimSpace(cleaned[i]) != "" {
			src.Code = append(src.Code, strings.TrimSpace(cleaned[i]))
		}
	}

	for i := 0; i < len(raw); i++ {
		if m := pyFuncPattern.FindStringSubmatch(raw[i]); m != nil {
			src.Functions = append(src.Functions, collectIndented(m[2], i, len(m[1]), raw, cleaned))
			continue
		}
		if m := goFuncPattern.FindStringSubmatch(raw[i]); m != nil {
			fn, end := collectBraced(m[2], i, raw, cleaned)
			src.Functions = append(src.Functions, fn)
			i = end
		}
	}
	return src
}

// cleanLine strips string literals and trailing comments.
func cleanLine(line string) string {
	line = stringLiteral.ReplaceAllString(line, `""`)
	return lineComment.ReplaceAllString(line, "")
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// collectIndented gathers a Python-style body: every following line indented
// deeper than the header. Nested defs stay part of the enclosing function and
// are also reported on their own.
func collectIndented(name string, start, indent int, raw, cleaned []string) Function {
	fn := Function{Name: name, StartLine: start + 1}
	for j := start + 1; j < len(raw); j++ {
		if strings.TrimSpace(raw[j]) == "" {
			continue
		}
		if indentOf(raw[j]) <= indent {
			break
		}
		if body := strings.TrimSpace(cleaned[j]); body != "" {
			fn.Lines = append(fn.Lines, body)
		}
	}
	fn.Statements, fn.Decisions = countBody(fn.Lines)
	return fn
}

// collectBraced gathers a brace-delimited body by tracking nesting depth.
func collectBraced(name string, start int, raw, cleaned []string) (Function, int) {
	fn := Function{Name: name, StartLine: start + 1}
	depth := strings.Count(cleaned[start], "{") - strings.Count(cleaned[start], "}")
	end := start
	for j := start + 1; j < len(raw) && depth > 0; j++ {
		depth += strings.Count(cleaned[j], "{") - strings.Count(cleaned[j], "}")
		end = j
		body := strings.TrimSpace(cleaned[j])
		if body == "" || (depth == 0 && body == "}") {
			continue
		}
		fn.Lines = append(fn.Lines, body)
	}
	fn.Statements, fn.Decisions = countBody(fn.Lines)
	return fn, end
}

func countBody(lines []string) (statements, decisions int) {
	for _, l := range lines {
		if l == "}" || l == "{" || l == ")" {
			continue
		}
		statements++
		decisions += countDecisions(l)
	}
	return statements, decisions
}

func countDecisions(line string) int {
	return len(decisionWords.FindAllString(line, -1)) + len(decisionOps.FindAllString(line, -1))
}
