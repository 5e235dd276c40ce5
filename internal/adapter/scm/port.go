// Package scm defines the unified source-control-provider port the pipeline
// drives: one interface covering both GitHub and GitLab, resolving the
// design note's two-candidate-shape open question in favor of a single
// union surface (SPEC_FULL §13).
package scm

import (
	"context"
	"errors"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

// ErrUnsupported is returned by a method a provider cannot perform. No
// current adapter returns it; it exists so a future provider can fail
// loudly instead of silently no-opping.
var ErrUnsupported = errors.New("scm: operation not supported by this provider")

// Port is the unified surface every SCM adapter (GitHub, GitLab, ...)
// implements. The worker's orchestration never branches on provider type;
// it drives this interface and lets the adapter own the provider-specific
// HTTP/wire details.
type Port interface {
	// FetchDiff retrieves the unified diff for a change request.
	FetchDiff(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier) (domain.DiffDocument, error)

	// FetchPRMetadata retrieves title, description, author, labels, and
	// commit messages for a change request.
	FetchPRMetadata(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier) (domain.PRMetadata, error)

	// FetchPolicyDocument retrieves a named repository policy document
	// (e.g. a review-guidelines file at a fixed repo-relative path). A
	// missing document is not an error: it returns domain.RepositoryPolicy{}
	// with an empty Content.
	FetchPolicyDocument(ctx context.Context, repo domain.RepositoryIdentifier, path string) (domain.RepositoryPolicy, error)

	// PublishComments posts a review result back to the change request as
	// inline comments plus a summary, per §4.8/§12's severity-gated action.
	PublishComments(ctx context.Context, repo domain.RepositoryIdentifier, changeRequestID domain.ChangeRequestIdentifier, diff domain.DiffDocument, result domain.ReviewResult) error

	// CloneShallow performs a shallow clone of the change request's head
	// ref into dir, for C9's sandboxed analysis. Only CloneShallow's
	// caller needs filesystem access; FetchDiff/FetchPRMetadata/
	// FetchPolicyDocument are pure API calls.
	CloneShallow(ctx context.Context, repo domain.RepositoryIdentifier, ref string, dir string) error
}
