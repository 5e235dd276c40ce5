package fixsafety

import (
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Input is the single operation's argument set: a candidate fix diff, the
// file it touches, the issue's confidence score, and any security findings
// raised for the same file by the sandbox (C9), whose categories are
// checked against the critical catalog.
type Input struct {
	FixDiff         string
	FilePath        string
	ConfidenceScore float64
	Categories      []CriticalCategory
	Findings        []domain.SecurityFinding
}

// Validate grades a suggested fix and returns an immutable ValidationResult
// (§4.10). It performs no I/O.
func Validate(in Input) domain.ValidationResult {
	if in.FixDiff == "" {
		return domain.ValidationResult{
			Verdict: domain.VerdictRejected,
			Reason:  "empty fix diff",
		}
	}

	for _, cat := range in.Categories {
		if IsCritical(cat) {
			return domain.ValidationResult{
				Verdict: domain.VerdictRejected,
				Reason:  "critical security category present: " + string(cat),
			}
		}
	}

	riskScore := 0.0
	for _, f := range in.Findings {
		riskScore += f.Severity.Weight()
	}

	threshold := RequiredThreshold(in.FilePath)
	sensitive := Sensitive(in.FilePath)

	if in.ConfidenceScore < threshold || sensitive {
		reason := "confidence below required threshold"
		if sensitive {
			reason = "sensitive file requires manual review"
		}
		return domain.ValidationResult{
			Verdict:   domain.VerdictManual,
			Reason:    reason,
			RiskScore: riskScore,
		}
	}

	return domain.ValidationResult{
		Verdict:   domain.VerdictApproved,
		RiskScore: riskScore,
	}
}
