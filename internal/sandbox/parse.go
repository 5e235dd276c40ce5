package sandbox

import (
	"bufio"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

// ParseOutput runs the framework-specific line scanner over a container
// run's combined output and returns the pass/fail summary (§4.9 step 4).
// An unrecognized framework name produces an empty result, never an error.
func ParseOutput(framework, combinedOutput string) domain.TestExecutionResult {
	result := domain.TestExecutionResult{Framework: framework, RawOutput: combinedOutput}

	switch framework {
	case "pytest":
		parsePytest(combinedOutput, &result)
	case "go":
		parseGoTest(combinedOutput, &result)
	case "maven", "gradle":
		parseMavenGradle(combinedOutput, &result)
	case "npm":
		parseJest(combinedOutput, &result)
	}

	return result
}

func parsePytest(output string, result *domain.TestExecutionResult) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "PASSED"):
			result.Passed++
			result.Tests = append(result.Tests, domain.TestRecord{Name: testNameBefore(line, "PASSED"), Passed: true})
		case strings.Contains(line, "FAILED"):
			result.Failed++
			result.Tests = append(result.Tests, domain.TestRecord{Name: testNameBefore(line, "FAILED"), Passed: false})
		}
	}
}

func parseGoTest(output string, result *domain.TestExecutionResult) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "--- PASS:"):
			result.Passed++
			result.Tests = append(result.Tests, domain.TestRecord{Name: testNameAfter(line, "--- PASS:"), Passed: true})
		case strings.HasPrefix(line, "--- FAIL:"):
			result.Failed++
			result.Tests = append(result.Tests, domain.TestRecord{Name: testNameAfter(line, "--- FAIL:"), Passed: false})
		}
	}
}

func parseMavenGradle(output string, result *domain.TestExecutionResult) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") && strings.Contains(line, "Test") && strings.Contains(line, "failed"):
			result.Failed++
			result.Tests = append(result.Tests, domain.TestRecord{Name: strings.TrimSpace(line), Passed: false})
		case strings.Contains(line, "FAILED"):
			result.Failed++
			result.Tests = append(result.Tests, domain.TestRecord{Name: testNameBefore(line, "FAILED"), Passed: false})
		case strings.Contains(line, "Tests run:"):
			// Aggregate summary line; individual pass records aren't
			// itemized by Maven/Gradle the way PASSED/FAILED lines are.
		}
	}
}

func parseJest(output string, result *domain.TestExecutionResult) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "✓"):
			result.Passed++
			result.Tests = append(result.Tests, domain.TestRecord{Name: strings.TrimSpace(strings.TrimPrefix(line, "✓")), Passed: true})
		case strings.HasPrefix(line, "✕"):
			result.Failed++
			result.Tests = append(result.Tests, domain.TestRecord{Name: strings.TrimSpace(strings.TrimPrefix(line, "✕")), Passed: false})
		}
	}
}

func testNameBefore(line, marker string) string {
	idx := strings.Index(line, marker)
	if idx < 0 {
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(line[:idx])
}

func testNameAfter(line, marker string) string {
	idx := strings.Index(line, marker)
	if idx < 0 {
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(line[idx+len(marker):])
}
