package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReviewModeNormalize(t *testing.T) {
	assert.Equal(t, ReviewModeDiff, ReviewMode("").Normalize())
	assert.Equal(t, ReviewModeAgentic, ReviewModeAgentic.Normalize())
}

func TestProviderValid(t *testing.T) {
	assert.True(t, ProviderGitHub.Valid())
	assert.True(t, ProviderGitLab.Valid())
	assert.False(t, Provider("bitbucket").Valid())
}

func TestChangeRequestIdentifierValid(t *testing.T) {
	assert.True(t, ChangeRequestIdentifier(42).Valid())
	assert.False(t, ChangeRequestIdentifier(0).Valid())
	assert.False(t, ChangeRequestIdentifier(-1).Valid())
}

func TestIssueEffectiveConfidence(t *testing.T) {
	noConfidence := Issue{File: "a.go"}
	assert.Equal(t, 0.5, noConfidence.EffectiveConfidence())

	score := 0.92
	withConfidence := Issue{File: "a.go", ConfidenceScore: &score}
	assert.Equal(t, 0.92, withConfidence.EffectiveConfidence())
}

func TestIssueFingerprintStableAcrossLineShift(t *testing.T) {
	a := Issue{File: "a.go", StartLine: 10, Severity: SeverityMajor, Title: "unchecked error"}
	b := Issue{File: "a.go", StartLine: 99, Severity: SeverityMajor, Title: "unchecked error"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := Issue{File: "a.go", StartLine: 10, Severity: SeverityMinor, Title: "unchecked error"}
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestSeverityValidAndWeight(t *testing.T) {
	assert.True(t, SeverityCritical.Valid())
	assert.False(t, Severity("fatal").Valid())
	assert.Greater(t, SeverityCritical.Weight(), SeverityMajor.Weight())
	assert.Greater(t, SeverityMajor.Weight(), SeverityMinor.Weight())
	assert.Greater(t, SeverityMinor.Weight(), SeverityInfo.Weight())
}

func TestReviewStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatePending, StateProcessing))
	assert.True(t, CanTransition(StateProcessing, StateCompleted))
	assert.True(t, CanTransition(StateProcessing, StateFailed))
	assert.False(t, CanTransition(StatePending, StateCompleted))
	assert.False(t, CanTransition(StateCompleted, StateProcessing))
	assert.False(t, CanTransition(StateFailed, StateProcessing))

	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateProcessing.Terminal())
}

func TestContainerRunValidate(t *testing.T) {
	valid := ContainerRun{MemoryBytes: 1 << 30, NanoCPUs: 2_000_000_000}
	assert.NoError(t, valid.Validate())

	noMemory := valid
	noMemory.MemoryBytes = 0
	assert.Error(t, noMemory.Validate())

	noCPU := valid
	noCPU.NanoCPUs = -1
	assert.Error(t, noCPU.Validate())
}

func TestRepositoryPolicyTruncate(t *testing.T) {
	p := RepositoryPolicy{Content: "0123456789"}
	p.Truncate(5)
	assert.True(t, p.Truncated)
	assert.Equal(t, "01234"+truncationMarker, p.Content)

	untouched := RepositoryPolicy{Content: "short"}
	untouched.Truncate(100)
	assert.False(t, untouched.Truncated)
	assert.Equal(t, "short", untouched.Content)
}

func TestFileModificationPath(t *testing.T) {
	modified := FileModification{OldPath: "a.go", NewPath: "a.go"}
	assert.Equal(t, "a.go", modified.Path())

	deleted := FileModification{OldPath: "old.go", Status: FileStatusDeleted}
	assert.Equal(t, "old.go", deleted.Path())
}
