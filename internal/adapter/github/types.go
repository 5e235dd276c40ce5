package github

import "github.com/codewatch-dev/codewatch/internal/domain"

// PositionedFinding wraps a domain.Issue with its GitHub diff position.
// This type lives in the adapter layer to keep the domain layer pure and
// platform-agnostic.
type PositionedFinding struct {
	// Issue is the review issue as produced by the accumulator.
	Issue domain.Issue

	// DiffPosition is the line position within the GitHub diff.
	// This is 1-indexed from the first @@ hunk header.
	// nil indicates the issue's line is not in the diff and cannot
	// receive an inline comment (should be included in summary only).
	DiffPosition *int
}

// InDiff returns true if the issue can receive an inline PR comment.
// Returns false if the issue's line is not part of the diff.
func (pf PositionedFinding) InDiff() bool {
	return pf.DiffPosition != nil
}
