// Package review implements the diff/context pipeline and prompt
// assembly/accumulation stages the worker drives for DIFF-mode requests.
package review

import (
	"context"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/codewatch-dev/codewatch/internal/adapter/scm"
	"github.com/codewatch-dev/codewatch/internal/config"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// defaultContextTokenBudget caps how much of the merged context list is
// kept once diff size is accounted for, so the eventual prompt stays
// within a model's practical context window.
const defaultContextTokenBudget = 6000

var tokenEncoding = sync.OnceValue(func() *tiktoken.Tiktoken {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}
	return enc
})

// countTokens estimates s's token count. It returns a character/4 estimate
// if the encoder failed to load, which only affects budget precision, not
// correctness.
func countTokens(s string) int {
	enc := tokenEncoding()
	if enc == nil {
		return len(s) / 4
	}
	return len(enc.Encode(s, nil, nil))
}

// Strategy is one independent context-retrieval heuristic. Strategies run
// concurrently and never see each other's output; ContextPipeline merges
// their results.
type Strategy interface {
	Name() string
	Run(ctx context.Context, diff domain.DiffDocument) domain.ContextRetrievalResult
}

// ContextPipeline implements C6: it fetches the diff through the SCM port,
// fans the configured strategies out in parallel, merges their matches, and
// attaches PR metadata and repository policy documents.
type ContextPipeline struct {
	scmPort        scm.Port
	strategies     []Strategy
	maxMatches     int
	policyPaths    []string
	policyMaxBytes int
}

// NewContextPipeline builds a pipeline over the given SCM port and
// strategies, applying cfg's match cap and policy document settings.
func NewContextPipeline(port scm.Port, strategies []Strategy, cfg config.ReviewConfig) *ContextPipeline {
	maxMatches := cfg.MaxContextMatches
	if maxMatches <= 0 {
		maxMatches = 20
	}
	maxBytes := cfg.PolicyDocMaxBytes
	if maxBytes <= 0 {
		maxBytes = 16384
	}
	return &ContextPipeline{
		scmPort:        port,
		strategies:     strategies,
		maxMatches:     maxMatches,
		policyPaths:    cfg.PolicyDocPaths,
		policyMaxBytes: maxBytes,
	}
}

// Gather runs the full C6 pipeline for a single change request. Diff fetch
// failure is fatal; every other step degrades gracefully and is recorded on
// the returned EnrichedDiff for observability.
func (p *ContextPipeline) Gather(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier) (domain.EnrichedDiff, error) {
	diffDoc, err := p.scmPort.FetchDiff(ctx, repo, changeRequestID)
	if err != nil {
		return domain.EnrichedDiff{}, err
	}

	enriched := domain.EnrichedDiff{
		Diff:         diffDoc,
		RepositoryID: repo,
	}

	results := p.runStrategies(ctx, diffDoc)
	enriched.StrategyResults = results
	matches := mergeMatches(results, p.maxMatches)
	enriched.ContextMatches, enriched.FilesExpanded, enriched.FilesSkipped = p.applyTokenBudget(diffDoc, matches)

	if meta, err := p.scmPort.FetchPRMetadata(ctx, repo, changeRequestID); err == nil {
		enriched.PRMetadata = &meta
	}

	enriched.RepositoryPolicies = p.fetchPolicies(ctx, repo)

	return enriched, nil
}

// runStrategies executes every configured strategy concurrently and
// collects results in declaration order regardless of completion order.
func (p *ContextPipeline) runStrategies(ctx context.Context, diff domain.DiffDocument) []domain.ContextRetrievalResult {
	results := make([]domain.ContextRetrievalResult, len(p.strategies))
	var wg sync.WaitGroup
	for i, strat := range p.strategies {
		wg.Add(1)
		go func(i int, strat Strategy) {
			defer wg.Done()
			start := time.Now()
			res := strat.Run(ctx, diff)
			res.StrategyName = strat.Name()
			res.ExecutionTime = time.Since(start)
			res.CandidateCount = len(res.Matches)
			if res.ReasonHistogram == nil {
				res.ReasonHistogram = map[domain.ContextReason]int{}
			}
			for _, m := range res.Matches {
				if m.Confidence >= 0.75 {
					res.HighConfidence++
				}
				res.ReasonHistogram[m.Reason]++
			}
			results[i] = res
		}(i, strat)
	}
	wg.Wait()
	return results
}

// mergeMatches deduplicates by FilePath keeping the highest-confidence
// occurrence, sorts descending by confidence, and caps at limit. A failed
// strategy (Err != nil) contributes no matches.
func mergeMatches(results []domain.ContextRetrievalResult, limit int) []domain.ContextMatch {
	best := map[string]domain.ContextMatch{}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		for _, m := range r.Matches {
			if existing, ok := best[m.FilePath]; !ok || m.Confidence > existing.Confidence {
				best[m.FilePath] = m
			}
		}
	}
	merged := make([]domain.ContextMatch, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		return merged[i].FilePath < merged[j].FilePath
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// applyTokenBudget implements the expansion step's size limit: the merged
// match list is walked in its sorted (descending-confidence) order and each
// match is kept only if the diff plus the evidence kept so far plus its own
// cost stays within the token budget; a match that does not fit is skipped
// and a later, smaller one can still be kept. Matches that survive are "expanded" into the prompt;
// matches cut for budget are recorded as skipped, not dropped silently.
func (p *ContextPipeline) applyTokenBudget(diffDoc domain.DiffDocument, matches []domain.ContextMatch) (kept []domain.ContextMatch, expanded, skipped []string) {
	budget := defaultContextTokenBudget
	used := countTokens(diffDoc.FromRef + diffDoc.ToRef)
	for _, f := range diffDoc.Files {
		for _, h := range f.Hunks {
			used += countTokens(strings.Join(h.Lines, "\n"))
		}
	}

	for _, m := range matches {
		cost := countTokens(m.Evidence) + countTokens(m.FilePath)
		if used+cost > budget {
			skipped = append(skipped, m.FilePath)
			continue
		}
		used += cost
		kept = append(kept, m)
		expanded = append(expanded, m.FilePath)
	}
	return kept, expanded, skipped
}

// fetchPolicies fetches every configured policy document path, skipping
// empty (not-found) results and truncating oversized ones. A fetch error is
// non-fatal and simply omits that document.
func (p *ContextPipeline) fetchPolicies(ctx context.Context, repo domain.RepositoryIdentifier) []domain.RepositoryPolicy {
	var out []domain.RepositoryPolicy
	for _, docPath := range p.policyPaths {
		policy, err := p.scmPort.FetchPolicyDocument(ctx, repo, docPath)
		if err != nil || policy.Content == "" {
			continue
		}
		policy.Path = docPath
		if policy.Name == "" {
			policy.Name = path.Base(docPath)
		}
		policy.Truncate(p.policyMaxBytes)
		out = append(out, policy)
	}
	return out
}

// SiblingFileStrategy surfaces other files in the same directory as a
// changed file: the cheapest and most reliable "related code" signal.
type SiblingFileStrategy struct {
	// Lister returns the sibling file paths for dir, excluding the changed
	// file itself. Injected so the strategy has no direct filesystem
	// dependency; a nil Lister degrades the strategy to zero matches.
	Lister func(dir string) []string
}

func (s SiblingFileStrategy) Name() string { return "sibling_file" }

func (s SiblingFileStrategy) Run(_ context.Context, diff domain.DiffDocument) domain.ContextRetrievalResult {
	if s.Lister == nil {
		return domain.ContextRetrievalResult{}
	}
	seen := map[string]bool{}
	for _, f := range diff.Files {
		seen[f.Path()] = true
	}
	var matches []domain.ContextMatch
	dirsSeen := map[string]bool{}
	for _, f := range diff.Files {
		dir := path.Dir(f.Path())
		if dirsSeen[dir] {
			continue
		}
		dirsSeen[dir] = true
		for _, sibling := range s.Lister(dir) {
			if seen[sibling] {
				continue
			}
			matches = append(matches, domain.ContextMatch{
				FilePath:   sibling,
				Reason:     domain.ReasonSiblingFile,
				Confidence: 0.4,
				Evidence:   "same directory as " + f.Path(),
			})
		}
	}
	return domain.ContextRetrievalResult{Matches: matches}
}

// SamePackageStrategy groups changed files by the package they declare,
// using only the diff's added/context lines. It never touches the
// filesystem, which is what makes it safe to run unconditionally.
type SamePackageStrategy struct{}

var packageDeclRegex = regexp.MustCompile(`(?m)^\s*package\s+([A-Za-z0-9_]+)\s*$`)

func (SamePackageStrategy) Name() string { return "same_package" }

func (SamePackageStrategy) Run(_ context.Context, diff domain.DiffDocument) domain.ContextRetrievalResult {
	packages := map[string][]string{}
	for _, f := range diff.Files {
		pkg := extractPackage(f)
		if pkg == "" {
			continue
		}
		packages[pkg] = append(packages[pkg], f.Path())
	}
	var matches []domain.ContextMatch
	for pkg, files := range packages {
		if len(files) < 2 {
			continue
		}
		for _, f := range files {
			matches = append(matches, domain.ContextMatch{
				FilePath:   f,
				Reason:     domain.ReasonSamePackage,
				Confidence: 0.55,
				Evidence:   "declares package " + pkg,
			})
		}
	}
	return domain.ContextRetrievalResult{Matches: matches}
}

func extractPackage(f domain.FileModification) string {
	for _, h := range f.Hunks {
		for _, line := range h.Lines {
			if len(line) == 0 {
				continue
			}
			if m := packageDeclRegex.FindStringSubmatch(line[1:]); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

// ImportReferenceStrategy scans added lines for tokens pointing at other
// files changed in the same diff, the diff-embedded import/reference
// signal spec.md calls out alongside the history- and metadata-based ones.
type ImportReferenceStrategy struct{}

func (ImportReferenceStrategy) Name() string { return "import_reference" }

func (ImportReferenceStrategy) Run(_ context.Context, diff domain.DiffDocument) domain.ContextRetrievalResult {
	stems := map[string]string{}
	for _, f := range diff.Files {
		base := path.Base(f.Path())
		stem := strings.TrimSuffix(base, path.Ext(base))
		if len(stem) >= 3 {
			stems[stem] = f.Path()
		}
	}

	var matches []domain.ContextMatch
	reported := map[string]bool{}
	for _, f := range diff.Files {
		for _, h := range f.Hunks {
			for _, line := range h.Lines {
				if len(line) == 0 || line[0] != '+' {
					continue
				}
				for stem, candidate := range stems {
					if candidate == f.Path() {
						continue
					}
					key := f.Path() + "->" + candidate
					if reported[key] || !strings.Contains(line[1:], stem) {
						continue
					}
					reported[key] = true
					matches = append(matches, domain.ContextMatch{
						FilePath:   candidate,
						Reason:     domain.ReasonFileReference,
						Confidence: 0.5,
						Evidence:   "referenced from " + f.Path(),
					})
				}
			}
		}
	}
	return domain.ContextRetrievalResult{Matches: matches}
}

// GitCochangeStrategy surfaces files that historically changed alongside
// the diff's files within a sliding commit window, the history-based
// signal spec.md calls out.
type GitCochangeStrategy struct {
	// CochangeLookup returns, for a file path, the other paths it has been
	// committed together with inside the configured window. Injected so the
	// strategy carries no direct VCS dependency; a nil CochangeLookup
	// degrades the strategy to zero matches.
	CochangeLookup func(ctx context.Context, filePath string) ([]string, error)
	WindowDays     int
}

func (GitCochangeStrategy) Name() string { return "git_cochange" }

func (g GitCochangeStrategy) Run(ctx context.Context, diff domain.DiffDocument) domain.ContextRetrievalResult {
	if g.CochangeLookup == nil {
		return domain.ContextRetrievalResult{}
	}
	changed := map[string]bool{}
	for _, f := range diff.Files {
		changed[f.Path()] = true
	}
	var matches []domain.ContextMatch
	var firstErr error
	for _, f := range diff.Files {
		paths, err := g.CochangeLookup(ctx, f.Path())
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, p := range paths {
			if changed[p] {
				continue
			}
			matches = append(matches, domain.ContextMatch{
				FilePath:   p,
				Reason:     domain.ReasonGitCochange,
				Confidence: 0.65,
				Evidence:   "co-committed with " + f.Path(),
			})
		}
	}
	if len(matches) == 0 && firstErr != nil {
		return domain.ContextRetrievalResult{Err: firstErr}
	}
	return domain.ContextRetrievalResult{Matches: matches}
}
