package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/adapter/git"
	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/codewatch-dev/codewatch/internal/diff"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Adapter implements scm.Port against the GitHub REST API. It wraps Client
// (PR reviews) with the additional diff/metadata/policy/clone operations
// the pipeline's C6 and C9 stages need.
type Adapter struct {
	client *Client
	clone  *git.Engine
	token  string
}

// NewAdapter builds a GitHub scm.Port implementation.
func NewAdapter(token string) *Adapter {
	return &Adapter{
		client: NewClient(token),
		clone:  git.NewEngine(),
		token:  token,
	}
}

// SetBaseURL overrides the REST API base URL (for testing against a fake
// server or GitHub Enterprise).
func (a *Adapter) SetBaseURL(baseURL string) { a.client.SetBaseURL(baseURL) }

func splitOwnerRepo(opaqueID string) (owner, repo string, err error) {
	parts := strings.SplitN(opaqueID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github: malformed repository id %q, want owner/repo", opaqueID)
	}
	return parts[0], parts[1], nil
}

// FetchDiff retrieves the unified diff for a pull request via the
// "application/vnd.github.diff" media type and parses it into a
// DiffDocument.
func (a *Adapter) FetchDiff(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier) (domain.DiffDocument, error) {
	owner, name, err := splitOwnerRepo(repo.OpaqueID)
	if err != nil {
		return domain.DiffDocument{}, err
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", a.client.baseURL,
		url.PathEscape(owner), url.PathEscape(name), int(changeRequestID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return domain.DiffDocument{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/vnd.github.diff")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := a.client.httpClient.Do(req)
	if err != nil {
		return domain.DiffDocument{}, &llmhttp.Error{Type: llmhttp.ErrTypeTimeout, Message: err.Error(), Retryable: true, Provider: providerName}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.DiffDocument{}, err
	}
	if resp.StatusCode >= 400 {
		return domain.DiffDocument{}, MapHTTPError(resp.StatusCode, body)
	}

	return diff.Parse(string(body))
}

type pullRequestResponse struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	User  User   `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Commits int `json:"commits"`
	Head    struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
}

type commitSummary struct {
	Commit struct {
		Message string `json:"message"`
	} `json:"commit"`
}

// FetchPRMetadata retrieves title, description, author, labels, and commit
// messages for a pull request.
func (a *Adapter) FetchPRMetadata(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier) (domain.PRMetadata, error) {
	owner, name, err := splitOwnerRepo(repo.OpaqueID)
	if err != nil {
		return domain.PRMetadata{}, err
	}

	pr, err := a.getJSON(ctx, fmt.Sprintf("%s/repos/%s/%s/pulls/%d", a.client.baseURL,
		url.PathEscape(owner), url.PathEscape(name), int(changeRequestID)))
	if err != nil {
		return domain.PRMetadata{}, err
	}
	var parsed pullRequestResponse
	if err := json.Unmarshal(pr, &parsed); err != nil {
		return domain.PRMetadata{}, fmt.Errorf("github: decode pull request: %w", err)
	}

	commits, err := a.getJSON(ctx, fmt.Sprintf("%s/repos/%s/%s/pulls/%d/commits?per_page=100", a.client.baseURL,
		url.PathEscape(owner), url.PathEscape(name), int(changeRequestID)))
	var commitMessages []string
	if err == nil {
		var summaries []commitSummary
		if jsonErr := json.Unmarshal(commits, &summaries); jsonErr == nil {
			for _, c := range summaries {
				commitMessages = append(commitMessages, c.Commit.Message)
			}
		}
	}

	labels := make([]string, 0, len(parsed.Labels))
	for _, l := range parsed.Labels {
		labels = append(labels, l.Name)
	}

	return domain.PRMetadata{
		Title:       parsed.Title,
		Description: parsed.Body,
		Author:      parsed.User.Login,
		Labels:      labels,
		Commits:     commitMessages,
	}, nil
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// FetchPolicyDocument retrieves a repository file at path via the Contents
// API. A 404 is not an error: it returns an empty RepositoryPolicy.
func (a *Adapter) FetchPolicyDocument(ctx context.Context, repo domain.RepositoryIdentifier, path string) (domain.RepositoryPolicy, error) {
	owner, name, err := splitOwnerRepo(repo.OpaqueID)
	if err != nil {
		return domain.RepositoryPolicy{}, err
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s", a.client.baseURL,
		url.PathEscape(owner), url.PathEscape(name), path)

	body, err := a.getJSON(ctx, apiURL)
	if err != nil {
		var httpErr *llmhttp.Error
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return domain.RepositoryPolicy{}, nil
		}
		return domain.RepositoryPolicy{}, err
	}

	var parsed contentsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.RepositoryPolicy{}, fmt.Errorf("github: decode contents: %w", err)
	}
	if parsed.Encoding != "base64" {
		return domain.RepositoryPolicy{Path: path, Content: parsed.Content}, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(parsed.Content, "\n", ""))
	if err != nil {
		return domain.RepositoryPolicy{}, fmt.Errorf("github: decode policy content: %w", err)
	}
	return domain.RepositoryPolicy{Path: path, Content: string(decoded)}, nil
}

// PublishComments posts the severity-gated review back to the pull
// request: issues become positioned inline comments, the summary plus
// non-blocking notes become the review body.
func (a *Adapter) PublishComments(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier, d domain.DiffDocument, result domain.ReviewResult) error {
	owner, name, err := splitOwnerRepo(repo.OpaqueID)
	if err != nil {
		return err
	}

	pr, err := a.getJSON(ctx, fmt.Sprintf("%s/repos/%s/%s/pulls/%d", a.client.baseURL,
		url.PathEscape(owner), url.PathEscape(name), int(changeRequestID)))
	if err != nil {
		return err
	}
	var parsed pullRequestResponse
	if err := json.Unmarshal(pr, &parsed); err != nil {
		return fmt.Errorf("github: decode pull request: %w", err)
	}

	positioned := MapIssues(result.Issues, d)
	event := DetermineReviewEvent(result)

	_, err = a.client.CreateReview(ctx, CreateReviewInput{
		Owner:      owner,
		Repo:       name,
		PullNumber: int(changeRequestID),
		CommitSHA:  parsed.Head.SHA,
		Event:      event,
		Summary:    formatReviewSummary(result),
		Findings:   positioned,
	})
	return err
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

// CloneShallow clones the change request's head ref into dir for C9's
// sandboxed analysis.
func (a *Adapter) CloneShallow(ctx context.Context, repo domain.RepositoryIdentifier, ref, dir string) error {
	owner, name, err := splitOwnerRepo(repo.OpaqueID)
	if err != nil {
		return err
	}
	cloneURL := fmt.Sprintf("https://github.com/%s/%s.git", owner, name)
	return a.clone.CloneShallow(ctx, cloneURL, ref, a.token, dir)
}

// getJSON issues an authenticated GET and returns the raw response body,
// mapping non-2xx statuses through MapHTTPError.
func (a *Adapter) getJSON(ctx context.Context, apiURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := a.client.httpClient.Do(req)
	if err != nil {
		return nil, &llmhttp.Error{Type: llmhttp.ErrTypeTimeout, Message: err.Error(), Retryable: true, Provider: providerName}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, MapHTTPError(resp.StatusCode, body)
	}
	return body, nil
}
