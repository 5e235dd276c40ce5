// Package orchestrate wires C5's dispatched request through the rest of
// the pipeline: C6 gathers context, C7 streams the review, C9 optionally
// runs sandboxed analysis for an AGENTIC request, C10 grades any
// suggested fix, C11 persists the lifecycle, and C8's Publisher hands the
// outcome to the provider-facing subscriber. Grounded on the teacher's
// review.Orchestrator/OrchestratorDeps shape, generalized from a single
// synchronous CLI run to the async worker's one-request-at-a-time
// dispatch.
package orchestrate

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/codewatch-dev/codewatch/internal/adapter/scm"
	"github.com/codewatch-dev/codewatch/internal/domain"
	"github.com/codewatch-dev/codewatch/internal/fixsafety"
	"github.com/codewatch-dev/codewatch/internal/publish"
	"github.com/codewatch-dev/codewatch/internal/sandbox"
	"github.com/codewatch-dev/codewatch/internal/state"
)

// ContextGatherer is the C6 port: *review.ContextPipeline satisfies it.
type ContextGatherer interface {
	Gather(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier) (domain.EnrichedDiff, error)
}

// Accumulator is the C7 port: *review.Accumulator satisfies it.
type Accumulator interface {
	Run(ctx context.Context, enriched domain.EnrichedDiff, userPrompt *string) (domain.ReviewResult, error)
}

// SandboxRunner is the C9 port: *sandbox.Analyzer satisfies it. Only
// exercised for an AGENTIC-mode request.
type SandboxRunner interface {
	Run(ctx context.Context, port scm.Port, repo domain.RepositoryIdentifier, ref, workDir string) (sandbox.Bundle, error)
}

// Deps are the Orchestrator's collaborators, one per binary-independent
// pipeline concern.
type Deps struct {
	SCMPorts    map[domain.Provider]scm.Port
	Context     map[domain.Provider]ContextGatherer
	Accumulator Accumulator
	Sandbox     SandboxRunner // nil disables AGENTIC sandbox analysis
	Store       *state.Store
	Publisher   *publish.Publisher
	WorkDirRoot string
	Logger      *zap.Logger
}

// Orchestrator drives a single AsyncReviewRequest end to end. Its Handle
// method is a worker.Handler.
type Orchestrator struct {
	deps Deps
}

// New builds an Orchestrator over deps. A blank WorkDirRoot falls back to
// os.TempDir.
func New(deps Deps) *Orchestrator {
	if deps.WorkDirRoot == "" {
		deps.WorkDirRoot = os.TempDir()
	}
	return &Orchestrator{deps: deps}
}

// Handle implements worker.Handler. Request-domain failures (unknown
// provider, diff fetch error, LLM schema violation) are recorded as a
// FAILED outcome and do not propagate as an error — only infrastructure
// failures (state store unreachable) do, so the worker loop leaves the
// stream record unacknowledged for redelivery.
func (o *Orchestrator) Handle(ctx context.Context, req domain.AsyncReviewRequest) error {
	started := time.Now()

	if err := o.deps.Store.Save(ctx, req); err != nil {
		return fmt.Errorf("orchestrate: save request: %w", err)
	}

	key := state.ReviewKey{
		RepositoryID:    req.RepositoryID,
		ChangeRequestID: req.ChangeRequestID,
		Provider:        req.Provider,
	}
	if err := o.deps.Store.UpdateState(ctx, key, domain.StateProcessing); err != nil {
		return fmt.Errorf("orchestrate: mark processing: %w", err)
	}

	port, ok := o.deps.SCMPorts[req.Provider]
	if !ok {
		return o.fail(ctx, req, key, fmt.Sprintf("no SCM port configured for provider %s", req.Provider))
	}
	contextGatherer, ok := o.deps.Context[req.Provider]
	if !ok {
		return o.fail(ctx, req, key, fmt.Sprintf("no context pipeline configured for provider %s", req.Provider))
	}

	enriched, err := contextGatherer.Gather(ctx, req.RepositoryID, req.ChangeRequestID)
	if err != nil {
		return o.fail(ctx, req, key, fmt.Sprintf("gather context: %v", err))
	}

	findings := o.runSandbox(ctx, req, port, enriched.Diff)

	result, err := o.deps.Accumulator.Run(ctx, enriched, req.UserPrompt)
	if err != nil {
		return o.fail(ctx, req, key, fmt.Sprintf("review: %v", err))
	}

	result.Issues = gradeFixes(result.Issues, findings)

	if err := o.deps.Store.UpdateResultAndState(ctx, key, result, domain.StateCompleted); err != nil {
		return fmt.Errorf("orchestrate: persist result: %w", err)
	}

	return o.deps.Publisher.Publish(ctx, publish.Outcome{
		Request:          req,
		Result:           result,
		ProcessingMillis: time.Since(started).Milliseconds(),
		CompletedAt:      time.Now().UTC(),
	})
}

// runSandbox performs C9's analysis for an AGENTIC request. A clone failure
// degrades to no findings, and a container failure (including a timeout)
// keeps the security findings already gathered from the workspace, rather
// than failing the whole review — the LLM review itself never depends on
// the sandbox succeeding.
func (o *Orchestrator) runSandbox(ctx context.Context, req domain.AsyncReviewRequest, port scm.Port, diff domain.DiffDocument) []domain.SecurityFinding {
	if o.deps.Sandbox == nil || req.ReviewMode.Normalize() != domain.ReviewModeAgentic {
		return nil
	}

	workDir := filepath.Join(o.deps.WorkDirRoot, req.RequestID.String())
	defer os.RemoveAll(workDir)

	bundle, err := o.deps.Sandbox.Run(ctx, port, req.RepositoryID, diff.ToRef, workDir)
	if err != nil {
		if o.deps.Logger != nil {
			o.deps.Logger.Warn("sandbox analysis failed, continuing with the findings gathered so far",
				zap.String("requestId", req.RequestID.String()), zap.Error(err))
		}
		return bundle.Findings
	}
	return bundle.Findings
}

func (o *Orchestrator) fail(ctx context.Context, req domain.AsyncReviewRequest, key state.ReviewKey, reason string) error {
	if err := o.deps.Store.UpdateState(ctx, key, domain.StateFailed); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Error("orchestrate: mark failed state failed",
			zap.String("requestId", req.RequestID.String()), zap.Error(err))
	}
	return o.deps.Publisher.PublishFailure(ctx, req, reason)
}

// gradeFixes runs C10 over each issue carrying a suggested fix and strips
// the fix when rejected. The finding itself still surfaces; only the fix
// is withheld, per §4.10's "reject the fix, not the finding".
func gradeFixes(issues []domain.Issue, findings []domain.SecurityFinding) []domain.Issue {
	for i, issue := range issues {
		if issue.SuggestedFix == "" {
			continue
		}

		decoded, err := base64.StdEncoding.DecodeString(issue.SuggestedFix)
		if err != nil {
			issues[i].SuggestedFix = ""
			continue
		}

		var fileFindings []domain.SecurityFinding
		var categories []fixsafety.CriticalCategory
		for _, f := range findings {
			if f.File != issue.File {
				continue
			}
			fileFindings = append(fileFindings, f)
			categories = append(categories, sandbox.CategoryOf(f))
		}

		verdict := fixsafety.Validate(fixsafety.Input{
			FixDiff:         string(decoded),
			FilePath:        issue.File,
			ConfidenceScore: issue.EffectiveConfidence(),
			Categories:      categories,
			Findings:        fileFindings,
		})
		if verdict.Verdict == domain.VerdictRejected {
			issues[i].SuggestedFix = ""
		}
	}
	return issues
}
