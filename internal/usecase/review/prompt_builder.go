package review

import (
	"fmt"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/diff"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// systemPrompt describes the reviewer role, severity taxonomy, and the
// exact JSON shape the response must conform to. Treated as an external
// template resource; kept as a Go constant here for lack of one.
const systemPrompt = `You are an automated code reviewer. Review the provided diff and any
supplied context, then respond with a single JSON object and nothing else
(no prose, no markdown fences).

Severity taxonomy, most to least severe:
  critical - correctness or security defects that will break production
  major    - defects likely to cause bugs or significant maintenance cost
  minor    - style, readability, or small correctness nits
  info     - observations worth noting but not requiring action

Respond with exactly this shape:
{
  "summary": string,
  "issues": [
    {
      "file": string,
      "start_line": integer >= 1,
      "severity": "critical" | "major" | "minor" | "info",
      "title": string,
      "suggestion": string,
      "confidenceScore": number between 0 and 1 (optional),
      "confidenceExplanation": string (optional),
      "suggestedFix": base64-encoded markdown diff (optional)
    }
  ],
  "non_blocking_notes": [
    { "file": string, "line": integer >= 1, "note": string }
  ]
}

No additional properties are permitted at any level. Do not wrap the
object in an array.`

// BuildSystemPrompt returns the fixed system prompt for the reviewer role.
func BuildSystemPrompt() string {
	return systemPrompt
}

// BuildUserPrompt assembles the user prompt in the order spec.md fixes:
// ticket/business context, repository policy blocks, PR metadata, the
// enriched diff as raw unified text, then the structured context-match
// list.
func BuildUserPrompt(enriched domain.EnrichedDiff, userPrompt *string) string {
	var b strings.Builder

	if userPrompt != nil && strings.TrimSpace(*userPrompt) != "" {
		b.WriteString("## Business context\n\n")
		b.WriteString(strings.TrimSpace(*userPrompt))
		b.WriteString("\n\n")
	}

	for _, policy := range enriched.RepositoryPolicies {
		fmt.Fprintf(&b, "## Repository policy: %s\n\n%s\n\n", policy.Name, policy.Content)
	}

	if enriched.PRMetadata != nil {
		writePRMetadata(&b, *enriched.PRMetadata)
	}

	b.WriteString("## Diff\n\n```diff\n")
	b.WriteString(diff.Render(enriched.Diff))
	b.WriteString("\n```\n\n")

	if len(enriched.ContextMatches) > 0 {
		writeContextMatches(&b, enriched.ContextMatches)
	}

	return b.String()
}

func writePRMetadata(b *strings.Builder, meta domain.PRMetadata) {
	b.WriteString("## Pull request metadata\n\n")
	fmt.Fprintf(b, "Title: %s\n", meta.Title)
	if meta.Author != "" {
		fmt.Fprintf(b, "Author: %s\n", meta.Author)
	}
	if len(meta.Labels) > 0 {
		fmt.Fprintf(b, "Labels: %s\n", strings.Join(meta.Labels, ", "))
	}
	if meta.Description != "" {
		fmt.Fprintf(b, "Description:\n%s\n", meta.Description)
	}
	if len(meta.Commits) > 0 {
		b.WriteString("Commits:\n")
		for _, c := range meta.Commits {
			fmt.Fprintf(b, "  - %s\n", c)
		}
	}
	b.WriteString("\n")
}

func writeContextMatches(b *strings.Builder, matches []domain.ContextMatch) {
	b.WriteString("## Related context\n\n")
	for _, m := range matches {
		fmt.Fprintf(b, "- %s (reason=%s, confidence=%.2f): %s\n", m.FilePath, m.Reason, m.Confidence, m.Evidence)
	}
	b.WriteString("\n")
}
