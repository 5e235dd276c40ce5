package gitlab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/adapter/git"
	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/codewatch-dev/codewatch/internal/diff"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Adapter implements scm.Port against the GitLab REST API v4.
type Adapter struct {
	client *Client
	clone  *git.Engine
	token  string
}

// NewAdapter builds a GitLab scm.Port implementation.
func NewAdapter(token string) *Adapter {
	return &Adapter{client: NewClient(token), clone: git.NewEngine(), token: token}
}

// SetBaseURL overrides the REST API base URL (self-managed GitLab, tests).
func (a *Adapter) SetBaseURL(baseURL string) { a.client.SetBaseURL(baseURL) }

func mrURL(baseURL, opaqueID string, changeRequestID domain.ChangeRequestIdentifier, suffix string) string {
	u := fmt.Sprintf("%s/projects/%s/merge_requests/%d", baseURL, projectPath(opaqueID), int(changeRequestID))
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

// FetchDiff retrieves the merge request's per-file diffs and reassembles
// them into a single unified-diff document, since GitLab's diffs endpoint
// returns file-scoped hunk bodies rather than one combined patch.
func (a *Adapter) FetchDiff(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier) (domain.DiffDocument, error) {
	body, err := a.client.get(ctx, mrURL(a.client.baseURL, repo.OpaqueID, changeRequestID, "diffs")+"?per_page=100")
	if err != nil {
		return domain.DiffDocument{}, err
	}

	var entries []DiffEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return domain.DiffDocument{}, fmt.Errorf("gitlab: decode diffs: %w", err)
	}

	var b strings.Builder
	for _, e := range entries {
		oldPath, newPath := e.OldPath, e.NewPath
		if oldPath == "" {
			oldPath = newPath
		}
		if newPath == "" {
			newPath = oldPath
		}
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", oldPath, newPath)
		if e.DeletedFile {
			fmt.Fprintf(&b, "--- a/%s\n+++ /dev/null\n", oldPath)
		} else if e.NewFile {
			fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\n", newPath)
		} else {
			fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", oldPath, newPath)
		}
		b.WriteString(e.Diff)
		if !strings.HasSuffix(e.Diff, "\n") {
			b.WriteByte('\n')
		}
	}

	return diff.Parse(b.String())
}

// FetchPRMetadata retrieves title, description, author, labels, and
// commit messages for a merge request.
func (a *Adapter) FetchPRMetadata(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier) (domain.PRMetadata, error) {
	mr, err := a.fetchMergeRequest(ctx, repo.OpaqueID, changeRequestID)
	if err != nil {
		return domain.PRMetadata{}, err
	}

	commitsBody, err := a.client.get(ctx, mrURL(a.client.baseURL, repo.OpaqueID, changeRequestID, "commits")+"?per_page=100")
	var commitMessages []string
	if err == nil {
		var summaries []CommitSummary
		if jsonErr := json.Unmarshal(commitsBody, &summaries); jsonErr == nil {
			for _, c := range summaries {
				commitMessages = append(commitMessages, c.Message)
			}
		}
	}

	return domain.PRMetadata{
		Title:       mr.Title,
		Description: mr.Description,
		Author:      mr.Author.Username,
		Labels:      mr.Labels,
		Commits:     commitMessages,
	}, nil
}

// FetchPolicyDocument retrieves a repository file via the Repository
// Files API. A 404 is not an error: it returns an empty RepositoryPolicy.
func (a *Adapter) FetchPolicyDocument(ctx context.Context, repo domain.RepositoryIdentifier, path string) (domain.RepositoryPolicy, error) {
	apiURL := fmt.Sprintf("%s/projects/%s/repository/files/%s?ref=HEAD",
		a.client.baseURL, projectPath(repo.OpaqueID), url.PathEscape(path))

	body, err := a.client.get(ctx, apiURL)
	if err != nil {
		var httpErr *llmhttp.Error
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return domain.RepositoryPolicy{}, nil
		}
		return domain.RepositoryPolicy{}, err
	}

	var parsed RepositoryFileResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.RepositoryPolicy{}, fmt.Errorf("gitlab: decode repository file: %w", err)
	}
	if parsed.Encoding != "base64" {
		return domain.RepositoryPolicy{Path: path, Content: parsed.Content}, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(parsed.Content, "\n", ""))
	if err != nil {
		return domain.RepositoryPolicy{}, fmt.Errorf("gitlab: decode policy content: %w", err)
	}
	return domain.RepositoryPolicy{Path: path, Content: string(decoded)}, nil
}

// PublishComments posts the severity-gated review back to the merge
// request: in-diff issues become positioned discussion threads, the
// summary plus non-blocking notes become a general note, and a clean
// result (no issues, no notes) approves the merge request, mirroring the
// GitHub adapter's DetermineReviewEvent gating (§12).
func (a *Adapter) PublishComments(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier, d domain.DiffDocument, result domain.ReviewResult) error {
	mr, err := a.fetchMergeRequest(ctx, repo.OpaqueID, changeRequestID)
	if err != nil {
		return err
	}

	byPath := make(map[string]domain.FileModification, len(d.Files))
	for _, f := range d.Files {
		byPath[f.Path()] = f
		if f.OldPath != "" {
			byPath[f.OldPath] = f
		}
	}

	for _, issue := range result.Issues {
		mod, ok := byPath[issue.File]
		if !ok {
			continue
		}
		if diff.FindPosition(mod, issue.StartLine) == nil {
			continue
		}
		discussion := DiscussionRequest{
			Body: formatIssueNote(issue),
			Position: &PositionOptions{
				BaseSHA:      mr.DiffRefs.BaseSHA,
				StartSHA:     mr.DiffRefs.StartSHA,
				HeadSHA:      mr.DiffRefs.HeadSHA,
				NewPath:      mod.Path(),
				NewLine:      issue.StartLine,
				PositionType: "text",
			},
		}
		if _, err := a.client.postJSON(ctx, mrURL(a.client.baseURL, repo.OpaqueID, changeRequestID, "discussions"), discussion); err != nil {
			return err
		}
	}

	if _, err := a.client.postJSON(ctx, mrURL(a.client.baseURL, repo.OpaqueID, changeRequestID, "notes"), NoteRequest{Body: formatReviewSummary(result)}); err != nil {
		return err
	}

	if len(result.Issues) == 0 && len(result.NonBlockingNotes) == 0 {
		_, err := a.client.postJSON(ctx, mrURL(a.client.baseURL, repo.OpaqueID, changeRequestID, "approve"), struct{}{})
		return err
	}
	return nil
}

func formatIssueNote(i domain.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Severity:** %s\n\n", i.Severity)
	b.WriteString(i.Title)
	b.WriteString("\n")
	if i.Suggestion != "" {
		fmt.Fprintf(&b, "\n**Suggestion:** %s\n", i.Suggestion)
	}
	if i.ConfidenceExplanation != "" {
		fmt.Fprintf(&b, "\n_Confidence: %s_\n", i.ConfidenceExplanation)
	}
	return b.String()
}

func formatReviewSummary(result domain.ReviewResult) string {
	var b strings.Builder
	b.WriteString(result.Summary)
	if len(result.NonBlockingNotes) > 0 {
		b.WriteString("\n\n**Notes:**\n")
		for _, n := range result.NonBlockingNotes {
			fmt.Fprintf(&b, "- %s:%d %s\n", n.File, n.Line, n.Note)
		}
	}
	return b.String()
}

// CloneShallow clones the merge request's source branch into dir for
// C9's sandboxed analysis.
func (a *Adapter) CloneShallow(ctx context.Context, repo domain.RepositoryIdentifier, ref, dir string) error {
	cloneURL := fmt.Sprintf("https://gitlab.com/%s.git", repo.OpaqueID)
	return a.clone.CloneShallow(ctx, cloneURL, ref, a.token, dir)
}

func (a *Adapter) fetchMergeRequest(ctx context.Context, opaqueID string, changeRequestID domain.ChangeRequestIdentifier) (MergeRequestResponse, error) {
	body, err := a.client.get(ctx, mrURL(a.client.baseURL, opaqueID, changeRequestID, ""))
	if err != nil {
		return MergeRequestResponse{}, err
	}
	var parsed MergeRequestResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return MergeRequestResponse{}, fmt.Errorf("gitlab: decode merge request: %w", err)
	}
	return parsed, nil
}
