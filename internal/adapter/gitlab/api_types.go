package gitlab

import "encoding/json"

// GitLab REST API v4 types.
// See: https://docs.gitlab.com/ee/api/merge_requests.html

// Author is the subset of a GitLab user object the pipeline needs.
type Author struct {
	Username string `json:"username"`
}

// MergeRequestResponse is GET /projects/:id/merge_requests/:iid.
type MergeRequestResponse struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Author       Author   `json:"author"`
	Labels       []string `json:"labels"`
	DiffRefs     DiffRefs `json:"diff_refs"`
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	ProjectID    int      `json:"project_id"`
}

// DiffRefs carries the three commit SHAs GitLab requires to anchor a
// position-based discussion comment to a specific diff version.
type DiffRefs struct {
	BaseSHA  string `json:"base_sha"`
	StartSHA string `json:"start_sha"`
	HeadSHA  string `json:"head_sha"`
}

// DiffEntry is one file's worth of GET /merge_requests/:iid/diffs.
type DiffEntry struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	Diff        string `json:"diff"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
}

// CommitSummary is one entry of GET /merge_requests/:iid/commits.
type CommitSummary struct {
	Message string `json:"message"`
}

// RepositoryFileResponse is GET /repository/files/:file_path.
type RepositoryFileResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// PositionOptions anchors an inline discussion comment to a diff line.
type PositionOptions struct {
	BaseSHA      string `json:"base_sha"`
	StartSHA     string `json:"start_sha"`
	HeadSHA      string `json:"head_sha"`
	NewPath      string `json:"new_path"`
	NewLine      int    `json:"new_line"`
	PositionType string `json:"position_type"`
}

// DiscussionRequest is the body for POST /merge_requests/:iid/discussions.
type DiscussionRequest struct {
	Body     string           `json:"body"`
	Position *PositionOptions `json:"position,omitempty"`
}

// NoteRequest is the body for POST /merge_requests/:iid/notes.
type NoteRequest struct {
	Body string `json:"body"`
}

// ErrorResponse is GitLab's error envelope; "message" may be a plain
// string or a structured field->[]string map depending on the endpoint,
// so it is captured raw and normalized by parseErrorMessage.
type ErrorResponse struct {
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
}
