package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

func TestBuildSystemPrompt_DescribesSeverityTaxonomyAndShape(t *testing.T) {
	sys := BuildSystemPrompt()
	assert.Contains(t, sys, "critical")
	assert.Contains(t, sys, "non_blocking_notes")
	assert.Contains(t, sys, "start_line")
}

func TestBuildUserPrompt_OrdersSectionsPerSpec(t *testing.T) {
	userPrompt := "fix the login bug"
	enriched := domain.EnrichedDiff{
		Diff: sampleDiff(),
		RepositoryPolicies: []domain.RepositoryPolicy{
			{Name: "CONTRIBUTING.md", Content: "write tests"},
		},
		PRMetadata: &domain.PRMetadata{Title: "Fix login", Author: "nim"},
		ContextMatches: []domain.ContextMatch{
			{FilePath: "pkg/b.go", Reason: domain.ReasonSamePackage, Confidence: 0.6, Evidence: "shares package"},
		},
	}

	prompt := BuildUserPrompt(enriched, &userPrompt)

	businessIdx := strings.Index(prompt, "fix the login bug")
	policyIdx := strings.Index(prompt, "write tests")
	metaIdx := strings.Index(prompt, "Fix login")
	diffIdx := strings.Index(prompt, "```diff")
	contextIdx := strings.Index(prompt, "pkg/b.go")

	for _, idx := range []int{businessIdx, policyIdx, metaIdx, diffIdx, contextIdx} {
		assert.GreaterOrEqual(t, idx, 0)
	}
	assert.True(t, businessIdx < policyIdx)
	assert.True(t, policyIdx < metaIdx)
	assert.True(t, metaIdx < diffIdx)
	assert.True(t, diffIdx < contextIdx)
}

func TestBuildUserPrompt_OmitsOptionalSectionsWhenAbsent(t *testing.T) {
	enriched := domain.EnrichedDiff{Diff: sampleDiff()}
	prompt := BuildUserPrompt(enriched, nil)

	assert.NotContains(t, prompt, "Business context")
	assert.NotContains(t, prompt, "Pull request metadata")
	assert.NotContains(t, prompt, "Related context")
	assert.Contains(t, prompt, "```diff")
}
