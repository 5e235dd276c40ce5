// Package git provides the shallow-clone primitive the Container Analysis
// Engine (C9) uses to materialize a change request's head ref into an
// ephemeral sandbox workspace.
package git

import (
	"context"
	"fmt"

	goGit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Engine performs shallow clones backed by go-git.
type Engine struct{}

// NewEngine constructs a Git engine.
func NewEngine() *Engine {
	return &Engine{}
}

// CloneShallow clones ref from cloneURL into dir at depth 1, the single
// mode C9 needs: a disposable workspace for sandboxed analysis, never a
// working copy the caller pushes back to. token authenticates over HTTPS
// when non-empty; an empty token attempts an anonymous clone.
func (e *Engine) CloneShallow(ctx context.Context, cloneURL, ref, token, dir string) error {
	opts := &goGit.CloneOptions{
		URL:           cloneURL,
		Depth:         1,
		SingleBranch:  true,
		ReferenceName: plumbing.NewBranchReferenceName(ref),
		Tags:          goGit.NoTags,
	}
	if token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: token}
	}

	if _, err := goGit.PlainCloneContext(ctx, dir, false, opts); err != nil {
		return fmt.Errorf("git: shallow clone of %s@%s: %w", cloneURL, ref, err)
	}
	return nil
}
