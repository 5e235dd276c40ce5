package sandbox

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/domain"
	"github.com/codewatch-dev/codewatch/internal/fixsafety"
)

// visitKind is the flat capability set detectors dispatch over, replacing
// the inheritance-heavy AST-visitor hierarchy the source leans on (Design
// Note §9: "model detectors as variants over a capability set
// {visitMethodCall, visitObjectCreation}; dispatch is a flat match, not a
// vtable").
type visitKind int

const (
	visitMethodCall visitKind = iota
	visitObjectCreation
)

// detector is one pattern-catalog entry, in the same regex-catalog shape as
// the teacher's secret-redaction engine (internal/redaction.Engine),
// adapted from secret patterns to security-smell patterns.
type detector struct {
	name     string
	kind     visitKind
	category fixsafety.CriticalCategory
	severity domain.SecuritySeverity
	pattern  *regexp.Regexp
	messageF func(match string, line int) string
}

var lineRefRegex = regexp.MustCompile(`line (\d+)`)

var detectorCatalog = []detector{
	{
		name:     "command-injection",
		kind:     visitMethodCall,
		category: fixsafety.CategoryCommandInjection,
		severity: domain.SecSeverityCritical,
		pattern:  regexp.MustCompile(`(?i)\b(exec\.Command|Runtime\.getRuntime\(\)\.exec|subprocess\.(call|Popen|run)|child_process\.exec|os\.system)\s*\(`),
		messageF: func(match string, line int) string {
			return fmt.Sprintf("command injection risk via %s at line %d", match, line)
		},
	},
	{
		name:     "code-injection",
		kind:     visitMethodCall,
		category: fixsafety.CategoryRCE,
		severity: domain.SecSeverityCritical,
		pattern:  regexp.MustCompile(`(?i)\b(eval|exec|Function)\s*\(`),
		messageF: func(match string, line int) string {
			return fmt.Sprintf("dynamic code execution via %s at line %d", match, line)
		},
	},
	{
		name:     "path-traversal",
		kind:     visitMethodCall,
		category: fixsafety.CategoryPathTraversal,
		severity: domain.SecSeverityHigh,
		pattern:  regexp.MustCompile(`(?i)\b(os\.Open|ioutil\.ReadFile|open)\s*\([^)]*\.\./`),
		messageF: func(match string, line int) string {
			return fmt.Sprintf("possible path traversal via %s at line %d", match, line)
		},
	},
	{
		name:     "hardcoded-secret",
		kind:     visitObjectCreation,
		category: fixsafety.CategoryHardcodedSecret,
		severity: domain.SecSeverityHigh,
		pattern:  regexp.MustCompile(`(?i)(password|secret|api[_-]?key)\s*[:=]\s*["'][^"']{8,}["']`),
		messageF: func(match string, line int) string {
			return fmt.Sprintf("hardcoded credential literal at line %d", line)
		},
	},
	{
		name:     "reflection-abuse",
		kind:     visitObjectCreation,
		category: "",
		severity: domain.SecSeverityMedium,
		pattern:  regexp.MustCompile(`(?i)\b(reflect\.ValueOf|Class\.forName|getattr\(.*__)`),
		messageF: func(match string, line int) string {
			return fmt.Sprintf("reflection-based dynamic dispatch via %s at line %d", match, line)
		},
	},
	{
		name:     "sql-injection",
		kind:     visitMethodCall,
		category: fixsafety.CategorySQLInjection,
		severity: domain.SecSeverityCritical,
		pattern:  regexp.MustCompile(`(?i)(Exec|Query|execute)\s*\(\s*("|` + "`" + `)?\s*(SELECT|INSERT|UPDATE|DELETE)\b[^)]*\+`),
		messageF: func(match string, line int) string {
			return fmt.Sprintf("string-concatenated SQL query risks injection at line %d", line)
		},
	},
}

// AnalyzeSource runs every detector against a single file's source text and
// returns findings with Line adjusted to globalOffset, the file's starting
// line within whatever larger bundle the caller is tracking (§4.9 step 5).
// Passing globalOffset=0 for a standalone file is the common case.
func AnalyzeSource(filePath, source string, globalOffset int) []domain.SecurityFinding {
	lines := strings.Split(source, "\n")
	var findings []domain.SecurityFinding

	for i, line := range lines {
		localLine := i + 1
		for _, d := range detectorCatalog {
			match := d.pattern.FindString(line)
			if match == "" {
				continue
			}
			msg := d.messageF(match, localLine)
			findings = append(findings, domain.SecurityFinding{
				Detector: d.name,
				File:     filePath,
				Line:     extractAdjustedLine(msg, globalOffset),
				Severity: d.severity,
				Message:  msg,
			})
		}
	}
	return findings
}

// extractAdjustedLine scans msg for the literal "line N" substring and
// returns N+globalOffset, per §4.9 step 5.
func extractAdjustedLine(msg string, globalOffset int) int {
	m := lineRefRegex.FindStringSubmatch(msg)
	if m == nil {
		return globalOffset
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return globalOffset
	}
	return n + globalOffset
}

// CategoryOf returns the fix-safety catalog category a finding's detector
// maps to, empty if the detector has none (e.g. a non-critical smell).
func CategoryOf(f domain.SecurityFinding) fixsafety.CriticalCategory {
	for _, d := range detectorCatalog {
		if d.name == f.Detector {
			return d.category
		}
	}
	return ""
}
