// Package domain holds the value types shared across every stage of the
// review pipeline: ingestion, the stream protocol, the diff/context
// pipeline, the LLM accumulator, the sandbox, and the state store.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider identifies a hosted source-control provider.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// Valid reports whether p is one of the recognized providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGitHub, ProviderGitLab:
		return true
	default:
		return false
	}
}

// ReviewMode selects which stream a request is routed to and which worker
// role picks it up.
type ReviewMode string

const (
	ReviewModeDiff    ReviewMode = "DIFF"
	ReviewModeAgentic ReviewMode = "AGENTIC"
)

// Normalize returns m, or ReviewModeDiff if m is empty (absence of
// reviewMode defaults to DIFF).
func (m ReviewMode) Normalize() ReviewMode {
	if m == "" {
		return ReviewModeDiff
	}
	return m
}

// RepositoryIdentifier is a discriminated, structurally-equal identifier for
// a repository hosted on a provider.
type RepositoryIdentifier struct {
	Provider Provider `json:"provider"`
	OpaqueID string   `json:"opaqueId"`
}

func (r RepositoryIdentifier) String() string {
	return fmt.Sprintf("%s:%s", r.Provider, r.OpaqueID)
}

// ChangeRequestIdentifier is a provider-local positive integer, tied by
// convention to a RepositoryIdentifier.
type ChangeRequestIdentifier int

// Valid reports whether the change request id is a positive integer.
func (c ChangeRequestIdentifier) Valid() bool {
	return c > 0
}

// AsyncReviewRequest is the immutable unit of work enqueued by the
// ingestion gateway and consumed exactly once by a worker.
//
// UserPrompt and TriggerSource are optional: the richer shape is treated as
// authoritative (see DESIGN.md's Open Question resolution).
type AsyncReviewRequest struct {
	RequestID       uuid.UUID               `json:"requestId"`
	Provider        Provider                `json:"provider"`
	RepositoryID    RepositoryIdentifier    `json:"repositoryId"`
	ChangeRequestID ChangeRequestIdentifier `json:"changeRequestId"`
	ReviewMode      ReviewMode              `json:"reviewMode"`
	CreatedAt       time.Time               `json:"createdAt"`
	UserPrompt      *string                 `json:"userPrompt,omitempty"`
	TriggerSource   *string                 `json:"triggerSource,omitempty"`
}

// StreamRecord is a single entry read back from the broker.
type StreamRecord struct {
	RecordID string
	Fields   map[string]string
}

// IdempotencyClaim records the result of a single-writer claim attempt.
type IdempotencyClaim struct {
	Key       string
	Timestamp time.Time
	TTL       time.Duration
}

// ClaimOutcome distinguishes a fresh claim from a replay.
type ClaimOutcome int

const (
	ClaimNew ClaimOutcome = iota
	ClaimReplay
)

func (o ClaimOutcome) String() string {
	if o == ClaimNew {
		return "NEW"
	}
	return "REPLAY"
}

// FileStatus enumerates how a file participates in a diff.
type FileStatus string

const (
	FileStatusAdded    FileStatus = "added"
	FileStatusModified FileStatus = "modified"
	FileStatusDeleted  FileStatus = "deleted"
	FileStatusRenamed  FileStatus = "renamed"
)

// DiffHunk is a single `@@ -l[,c] +l[,c] @@` block and its body lines. Lines
// carry their original prefix character (` `, `+`, `-`, `\`); OldCount and
// NewCount come from the hunk header and must match the number of
// removed-or-context and added-or-context lines respectively.
type DiffHunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []string
}

// FileModification is one file's worth of hunks inside a DiffDocument.
type FileModification struct {
	OldPath  string
	NewPath  string
	Status   FileStatus
	IsBinary bool
	Hunks    []DiffHunk
}

// Path returns the file's current path, falling back to OldPath for
// deletions.
func (f FileModification) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// DiffDocument is an ordered sequence of file modifications, the parsed
// form of a unified diff.
type DiffDocument struct {
	FromRef string
	ToRef   string
	Files   []FileModification
}

// ContextReason enumerates why a file was surfaced as related context.
type ContextReason string

const (
	ReasonFileReference ContextReason = "FILE_REFERENCE"
	ReasonSiblingFile    ContextReason = "SIBLING_FILE"
	ReasonGitCochange    ContextReason = "GIT_COCHANGE"
	ReasonSamePackage    ContextReason = "SAME_PACKAGE"
	ReasonDirectImport   ContextReason = "DIRECT_IMPORT"
	ReasonTypeReference  ContextReason = "TYPE_REFERENCE"
)

// ContextMatch is one related-file candidate surfaced by a context
// retrieval strategy.
type ContextMatch struct {
	FilePath   string
	Reason     ContextReason
	Confidence float64
	Evidence   string
}

// ContextRetrievalResult is what a single context strategy returns: its
// matches plus metadata for observability. A failing strategy contributes
// only Err, never matches (§4.6: non-fatal, logged and omitted).
type ContextRetrievalResult struct {
	StrategyName    string
	Matches         []ContextMatch
	ExecutionTime   time.Duration
	CandidateCount  int
	HighConfidence  int
	ReasonHistogram map[ContextReason]int
	Err             error
}

// PRMetadata is the subset of change-request metadata surfaced to the
// prompt builder.
type PRMetadata struct {
	Title       string
	Description string
	Author      string
	Labels      []string
	Commits     []string
}

// RepositoryPolicy is a single fetched policy document (CONTRIBUTING,
// SECURITY, PR template, code of conduct, ...), truncated to the
// configured character limit with an explicit marker.
type RepositoryPolicy struct {
	Name      string
	Path      string
	Content   string
	Truncated bool
}

const truncationMarker = "\n...[truncated]"

// Truncate clamps p.Content to limit runes, appending the truncation marker
// and setting Truncated when it applies.
func (p *RepositoryPolicy) Truncate(limit int) {
	runes := []rune(p.Content)
	if len(runes) <= limit {
		return
	}
	p.Content = string(runes[:limit]) + truncationMarker
	p.Truncated = true
}

// EnrichedDiff bundles a parsed diff with the context gathered for it.
// ContextMatches are sorted descending by confidence and deduplicated by
// FilePath, keeping the highest-confidence occurrence.
type EnrichedDiff struct {
	Diff               DiffDocument
	RepositoryID       RepositoryIdentifier
	ContextMatches     []ContextMatch
	PRMetadata         *PRMetadata
	RepositoryPolicies []RepositoryPolicy
	FilesExpanded      []string
	FilesSkipped       []string
	StrategyResults    []ContextRetrievalResult
}

// Severity is the Issue severity taxonomy; issues outside this set are
// dropped before emission.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor, SeverityInfo:
		return true
	default:
		return false
	}
}

// Weight returns the severity's contribution to a fix-safety risk score.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityMajor:
		return 7
	case SeverityMinor:
		return 4
	case SeverityInfo:
		return 0.1
	default:
		return 0
	}
}

// Issue is a single review comment anchored to a file and line.
type Issue struct {
	File                  string   `json:"file"`
	StartLine             int      `json:"startLine"`
	Severity              Severity `json:"severity"`
	Title                 string   `json:"title"`
	Suggestion            string   `json:"suggestion"`
	ConfidenceScore       *float64 `json:"confidenceScore,omitempty"`
	ConfidenceExplanation string   `json:"confidenceExplanation,omitempty"`
	SuggestedFix          string   `json:"suggestedFix,omitempty"` // base64-encoded markdown diff
}

// EffectiveConfidence returns the issue's confidence, defaulting to 0.5
// when absent.
func (i Issue) EffectiveConfidence() float64 {
	if i.ConfidenceScore == nil {
		return 0.5
	}
	return *i.ConfidenceScore
}

// Fingerprint returns a stable identifier for this issue, excluding line
// number so it survives unrelated code shift. Adapted from the teacher's
// finding-fingerprint scheme (see DESIGN.md).
func (i Issue) Fingerprint() string {
	descRunes := []rune(i.Title)
	prefix := i.Title
	if len(descRunes) > 100 {
		prefix = string(descRunes[:100])
	}
	payload := fmt.Sprintf("%s|%s|%s", i.File, i.Severity, prefix)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:16])
}

// Note is a non-blocking, unfiltered observation.
type Note struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Note string `json:"note"`
}

// ReviewResult is C7's output: a summary plus confidence-filtered issues
// and unfiltered notes.
type ReviewResult struct {
	Summary          string  `json:"summary"`
	Issues           []Issue `json:"issues"`
	NonBlockingNotes []Note  `json:"nonBlockingNotes"`
	LLMProvider      string  `json:"llmProvider"`
	LLMModel         string  `json:"llmModel"`
	RawLLMResponse   string  `json:"rawLlmResponse,omitempty"`
}

// FingerprintSet returns the set of this result's issue fingerprints, for
// comparing two results without regard to ordering or line-number shift.
func (r ReviewResult) FingerprintSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Issues))
	for _, issue := range r.Issues {
		set[issue.Fingerprint()] = struct{}{}
	}
	return set
}

// SameIssuesAs reports whether r and other carry the same issue
// fingerprints, used by the Review State Store to tell a genuine new
// result apart from a redelivered duplicate of an already-completed one.
func (r ReviewResult) SameIssuesAs(other ReviewResult) bool {
	a, b := r.FingerprintSet(), other.FingerprintSet()
	if len(a) != len(b) {
		return false
	}
	for fp := range a {
		if _, ok := b[fp]; !ok {
			return false
		}
	}
	return true
}

// ReviewState is the FSM state of a review row in the state store.
type ReviewState string

const (
	StatePending    ReviewState = "PENDING"
	StateProcessing ReviewState = "PROCESSING"
	StateCompleted  ReviewState = "COMPLETED"
	StateFailed     ReviewState = "FAILED"
)

// Terminal reports whether s is a terminal FSM state.
func (s ReviewState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// legalPredecessors enumerates, for each state, the states a transition may
// legally come from. Terminal states never revert.
var legalPredecessors = map[ReviewState]map[ReviewState]bool{
	StatePending:    {},
	StateProcessing: {StatePending: true},
	StateCompleted:  {StateProcessing: true},
	StateFailed:     {StateProcessing: true},
}

// CanTransition reports whether from->to is a legal FSM transition.
func CanTransition(from, to ReviewState) bool {
	preds, ok := legalPredecessors[to]
	if !ok {
		return false
	}
	return preds[from]
}

// ContainerRun describes a single sandboxed execution request. Memory and
// CPU must be positive; builders must reject zero/negative.
type ContainerRun struct {
	Image           string
	MemoryBytes     int64
	NanoCPUs        int64
	Timeout         time.Duration
	WorkingDir      string
	Mounts          map[string]string // host path -> container path
	Command         []string
	Env             map[string]string
	ReadOnly        bool
	NetworkDisabled bool
	NoNewPrivileges bool
	AutoRemove      bool
}

// Validate enforces the positivity invariants on memory and CPU.
func (c ContainerRun) Validate() error {
	if c.MemoryBytes <= 0 {
		return fmt.Errorf("container run: memoryBytes must be positive, got %d", c.MemoryBytes)
	}
	if c.NanoCPUs <= 0 {
		return fmt.Errorf("container run: nanoCpus must be positive, got %d", c.NanoCPUs)
	}
	return nil
}

// ContainerRunOutcome captures what a sandboxed execution produced.
type ContainerRunOutcome struct {
	Stdout       string
	Stderr       string
	ExitCode     int
	WallDuration time.Duration
}

// TestRecord is a single test observed in a framework's output.
type TestRecord struct {
	Name   string
	Passed bool
}

// TestExecutionResult is the parsed summary of one framework's test run.
type TestExecutionResult struct {
	Framework string
	Passed    int
	Failed    int
	Tests     []TestRecord
	RawOutput string
}

// SecuritySeverity mirrors the weighted scale used by the sandbox's
// in-process AST detectors.
type SecuritySeverity string

const (
	SecSeverityCritical SecuritySeverity = "CRITICAL"
	SecSeverityHigh     SecuritySeverity = "HIGH"
	SecSeverityMedium   SecuritySeverity = "MEDIUM"
	SecSeverityLow      SecuritySeverity = "LOW"
	SecSeverityInfo     SecuritySeverity = "INFO"
)

// Weight returns the numeric severity weight used in risk scoring.
func (s SecuritySeverity) Weight() float64 {
	switch s {
	case SecSeverityCritical:
		return 10
	case SecSeverityHigh:
		return 7
	case SecSeverityMedium:
		return 4
	case SecSeverityLow:
		return 1
	case SecSeverityInfo:
		return 0.1
	default:
		return 0
	}
}

// SecurityFinding is a single detector hit, with its line adjusted to the
// file's global offset.
type SecurityFinding struct {
	Detector string
	File     string
	Line     int
	Severity SecuritySeverity
	Message  string
}

// FixSafetyVerdict is the tagged outcome of the fix-safety validator.
type FixSafetyVerdict string

const (
	VerdictApproved FixSafetyVerdict = "APPROVED"
	VerdictManual   FixSafetyVerdict = "MANUAL"
	VerdictRejected FixSafetyVerdict = "REJECTED"
)

// ValidationResult is C10's immutable output. The validator performs no I/O.
type ValidationResult struct {
	Verdict   FixSafetyVerdict
	Reason    string
	RiskScore float64
}
