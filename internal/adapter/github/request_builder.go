package github

import (
	"fmt"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

// BuildReviewComments converts positioned findings to GitHub review comments.
// Only findings with a valid DiffPosition (InDiff() == true) are included.
// This function is pure and does not modify the input.
func BuildReviewComments(findings []PositionedFinding) []ReviewComment {
	var comments []ReviewComment

	for _, pf := range findings {
		if !pf.InDiff() {
			continue
		}

		comments = append(comments, ReviewComment{
			Path:     pf.Issue.File,
			Position: *pf.DiffPosition,
			Body:     FormatIssueComment(pf.Issue),
		})
	}

	return comments
}

// FormatIssueComment formats a domain.Issue as a GitHub-flavored Markdown comment.
func FormatIssueComment(i domain.Issue) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("**Severity:** %s", i.Severity))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("📍 Line %d\n\n", i.StartLine))

	sb.WriteString(i.Title)
	sb.WriteString("\n")

	if i.Suggestion != "" {
		sb.WriteString("\n**Suggestion:** ")
		sb.WriteString(i.Suggestion)
		sb.WriteString("\n")
	}

	if i.ConfidenceExplanation != "" {
		sb.WriteString("\n_Confidence: ")
		sb.WriteString(i.ConfidenceExplanation)
		sb.WriteString("_\n")
	}

	return sb.String()
}

// DetermineReviewEvent implements the severity-gated publish action: a
// result whose highest-severity issue is critical or major requests
// changes; any other non-empty result comments only; an empty result
// (no issues, no notes) approves.
func DetermineReviewEvent(result domain.ReviewResult) ReviewEvent {
	if len(result.Issues) == 0 && len(result.NonBlockingNotes) == 0 {
		return EventApprove
	}

	for _, issue := range result.Issues {
		if issue.Severity == domain.SeverityCritical || issue.Severity == domain.SeverityMajor {
			return EventRequestChanges
		}
	}

	return EventComment
}

// CountInDiffFindings returns the count of findings that are in the diff.
func CountInDiffFindings(findings []PositionedFinding) int {
	count := 0
	for _, pf := range findings {
		if pf.InDiff() {
			count++
		}
	}
	return count
}
