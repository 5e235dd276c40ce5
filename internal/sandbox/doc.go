// Package sandbox is the C9 Container Analysis Engine, used only for
// AGENTIC-mode requests: it shallow-clones the target branch, detects the
// project's test framework by marker file, runs that framework's test
// command inside a resource-limited, no-privilege Docker container, parses
// the framework-specific output, and runs in-process AST-ish security
// detectors over the checked-out source. Grounded on the Docker SDK client
// wiring in eviltik-docker-tui (other_examples) and, for the pattern-catalog
// detector shape, the teacher's regex-based secret-redaction engine
// (internal/redaction.Engine).
package sandbox
