package github

import (
	"github.com/codewatch-dev/codewatch/internal/diff"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// MapIssues enriches review issues with GitHub diff positions. Issues are
// mapped to their corresponding position in the unified diff, which is
// required for creating inline PR review comments.
//
// For renamed files, the mapper checks both old and new paths, allowing
// issues that reference the old filename to still be mapped correctly.
//
// If an issue's line is not in the diff (e.g. unchanged code, deleted
// line, or a line outside any hunk), DiffPosition will be nil.
//
// This function is pure and does not modify the input issues.
func MapIssues(issues []domain.Issue, d domain.DiffDocument) []PositionedFinding {
	if len(issues) == 0 {
		return []PositionedFinding{}
	}

	byPath := make(map[string]domain.FileModification, len(d.Files))
	for _, f := range d.Files {
		byPath[f.Path()] = f
		if f.OldPath != "" {
			byPath[f.OldPath] = f
		}
	}

	result := make([]PositionedFinding, len(issues))
	for i, issue := range issues {
		pf := PositionedFinding{Issue: issue}
		if mod, ok := byPath[issue.File]; ok {
			pf.DiffPosition = diff.FindPosition(mod, issue.StartLine)
		}
		result[i] = pf
	}

	return result
}
