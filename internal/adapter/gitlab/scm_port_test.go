package gitlab_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codewatch-dev/codewatch/internal/adapter/gitlab"
	"github.com/codewatch-dev/codewatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_FetchDiff_ReassemblesUnifiedDiff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/group%2Fproject/merge_requests/42/diffs", r.URL.EscapedPath())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]gitlab.DiffEntry{
			{
				OldPath: "main.go",
				NewPath: "main.go",
				Diff:    "@@ -1,1 +1,2 @@\n-old\n+new\n+line\n",
			},
		})
	}))
	defer server.Close()

	adapter := gitlab.NewAdapter("test-token")
	adapter.SetBaseURL(server.URL)

	doc, err := adapter.FetchDiff(context.Background(), domain.RepositoryIdentifier{
		Provider: domain.ProviderGitLab,
		OpaqueID: "group/project",
	}, domain.ChangeRequestIdentifier(42))

	require.NoError(t, err)
	require.Len(t, doc.Files, 1)
	assert.Equal(t, "main.go", doc.Files[0].Path())
}

func TestAdapter_FetchPolicyDocument_DecodesBase64(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gitlab.RepositoryFileResponse{
			Content:  base64.StdEncoding.EncodeToString([]byte("policy body")),
			Encoding: "base64",
		})
	}))
	defer server.Close()

	adapter := gitlab.NewAdapter("test-token")
	adapter.SetBaseURL(server.URL)

	policy, err := adapter.FetchPolicyDocument(context.Background(), domain.RepositoryIdentifier{
		Provider: domain.ProviderGitLab,
		OpaqueID: "group/project",
	}, "REVIEW_POLICY.md")

	require.NoError(t, err)
	assert.Equal(t, "policy body", policy.Content)
}

func TestAdapter_FetchPolicyDocument_NotFoundReturnsEmptyPolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(gitlab.ErrorResponse{Error: "404 File Not Found"})
	}))
	defer server.Close()

	adapter := gitlab.NewAdapter("test-token")
	adapter.SetBaseURL(server.URL)

	policy, err := adapter.FetchPolicyDocument(context.Background(), domain.RepositoryIdentifier{
		Provider: domain.ProviderGitLab,
		OpaqueID: "group/project",
	}, "REVIEW_POLICY.md")

	require.NoError(t, err)
	assert.Equal(t, domain.RepositoryPolicy{}, policy)
}

func TestAdapter_PublishComments_PostsPositionedDiscussionsAndApproves(t *testing.T) {
	var discussionsPosted, notesPosted, approved bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(path, "/merge_requests/7"):
			json.NewEncoder(w).Encode(gitlab.MergeRequestResponse{
				Title: "Add feature",
				DiffRefs: gitlab.DiffRefs{
					BaseSHA:  "base",
					StartSHA: "start",
					HeadSHA:  "head",
				},
			})
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/discussions"):
			discussionsPosted = true
			var req gitlab.DiscussionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.NotNil(t, req.Position)
			assert.Equal(t, "main.go", req.Position.NewPath)
			json.NewEncoder(w).Encode(map[string]string{"id": "1"})
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/notes"):
			notesPosted = true
			json.NewEncoder(w).Encode(map[string]string{"id": "1"})
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/approve"):
			approved = true
			json.NewEncoder(w).Encode(map[string]string{"id": "1"})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	adapter := gitlab.NewAdapter("test-token")
	adapter.SetBaseURL(server.URL)

	doc := domain.DiffDocument{
		Files: []domain.FileModification{
			{
				NewPath: "main.go",
				Hunks: []domain.DiffHunk{
					{
						NewStart: 1,
						NewCount: 2,
						Lines:    []string{"-old", "+new"},
					},
				},
			},
		},
	}

	result := domain.ReviewResult{
		Summary: "looks good",
		Issues: []domain.Issue{
			{File: "main.go", StartLine: 1, Severity: domain.SeverityMinor, Title: "nit"},
		},
	}

	err := adapter.PublishComments(context.Background(), domain.RepositoryIdentifier{
		Provider: domain.ProviderGitLab,
		OpaqueID: "group/project",
	}, domain.ChangeRequestIdentifier(7), doc, result)

	require.NoError(t, err)
	assert.True(t, discussionsPosted)
	assert.True(t, notesPosted)
	assert.False(t, approved, "issues were present, approve should not be called")
}

func TestAdapter_PublishComments_ApprovesOnCleanResult(t *testing.T) {
	var approved bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(gitlab.MergeRequestResponse{Title: "Add feature"})
		case strings.HasSuffix(r.URL.Path, "/approve"):
			approved = true
			json.NewEncoder(w).Encode(map[string]string{"id": "1"})
		default:
			json.NewEncoder(w).Encode(map[string]string{"id": "1"})
		}
	}))
	defer server.Close()

	adapter := gitlab.NewAdapter("test-token")
	adapter.SetBaseURL(server.URL)

	err := adapter.PublishComments(context.Background(), domain.RepositoryIdentifier{
		Provider: domain.ProviderGitLab,
		OpaqueID: "group/project",
	}, domain.ChangeRequestIdentifier(7), domain.DiffDocument{}, domain.ReviewResult{Summary: "all clear"})

	require.NoError(t, err)
	assert.True(t, approved)
}
