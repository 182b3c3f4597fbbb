/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-logr/logr"
)

// GitRef specifies which ref to checkout from a Git repository.
type GitRef struct {
	// Branch is the branch name to checkout.
	Branch string

	// Tag is the tag name to checkout.
	Tag string
}

// GitCredentials contains HTTPS credentials for Git operations.
// SSH remotes use the ssh-agent when no credentials are given.
type GitCredentials struct {
	Username string

	// Password or token.
	Password string
}

// GitFetcherConfig contains configuration for the Git fetcher.
type GitFetcherConfig struct {
	// URL is the Git repository URL (https://, ssh:// or a local path).
	URL string

	// Ref specifies which ref to checkout. Empty means the remote HEAD.
	Ref GitRef

	// Credentials contains authentication credentials.
	Credentials *GitCredentials

	// Options contains common fetcher options.
	Options Options
}

// GitFetcher implements the Fetcher interface for Git repositories.
type GitFetcher struct {
	config GitFetcherConfig
	log    logr.Logger
}

// NewGitFetcher creates a new Git fetcher with the given configuration.
func NewGitFetcher(log logr.Logger, config GitFetcherConfig) *GitFetcher {
	if config.Options.Timeout == 0 {
		config.Options = DefaultOptions()
	}
	return &GitFetcher{config: config, log: log.WithName("git-fetcher")}
}

// Type returns the source type.
func (f *GitFetcher) Type() string {
	return "git"
}

// Fetch makes a shallow, single-branch clone of the configured ref.
func (f *GitFetcher) Fetch(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Options.Timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp(f.config.Options.WorkDir, "stencil-git-*")
	if err != nil {
		return nil, f.fail(fmt.Errorf("failed to create temp dir: %w", err))
	}
	snapshot := &Snapshot{tmpDir: tmpDir}

	cloneDir := filepath.Join(tmpDir, "repo")
	cloneOpts := &git.CloneOptions{
		URL:          f.config.URL,
		Auth:         f.auth(),
		Depth:        1,
		SingleBranch: true,
	}
	if f.config.Ref.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(f.config.Ref.Branch)
	} else if f.config.Ref.Tag != "" {
		cloneOpts.ReferenceName = plumbing.NewTagReferenceName(f.config.Ref.Tag)
	}

	f.log.V(1).Info("cloning repository", "url", f.config.URL, "ref", cloneOpts.ReferenceName.String())
	repo, err := git.PlainCloneContext(ctx, cloneDir, false, cloneOpts)
	if err != nil {
		_ = snapshot.Close()
		return nil, f.fail(describeCloneError(err, f.config.Ref))
	}

	head, err := repo.Head()
	if err != nil {
		_ = snapshot.Close()
		return nil, f.fail(fmt.Errorf("failed to get HEAD: %w", err))
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		_ = snapshot.Close()
		return nil, f.fail(fmt.Errorf("failed to get commit: %w", err))
	}

	snapshot.Dir = cloneDir
	snapshot.Revision = head.Hash().String()
	snapshot.LastModified = commit.Committer.When
	return snapshot, nil
}

func (f *GitFetcher) auth() transport.AuthMethod {
	if f.config.Credentials == nil {
		return nil
	}
	if f.config.Credentials.Username == "" && f.config.Credentials.Password == "" {
		return nil
	}
	username := f.config.Credentials.Username
	if username == "" {
		// Token-only HTTPS auth still needs a non-empty username.
		username = "git"
	}
	return &http.BasicAuth{
		Username: username,
		Password: f.config.Credentials.Password,
	}
}

func (f *GitFetcher) fail(err error) error {
	return &SourceFetchError{Source: f.config.URL, Err: err}
}

func describeCloneError(err error, ref GitRef) error {
	var noMatch git.NoMatchingRefSpecError
	switch {
	case errors.As(err, &noMatch), errors.Is(err, plumbing.ErrReferenceNotFound):
		name := ref.Branch
		if name == "" {
			name = ref.Tag
		}
		return fmt.Errorf("ref %q not found: %w", name, err)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("authentication failed: %w", err)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return fmt.Errorf("repository not found: %w", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("timed out: %w", err)
	}
	return fmt.Errorf("failed to clone repository: %w", err)
}

// Ensure GitFetcher implements Fetcher interface.
var _ Fetcher = (*GitFetcher)(nil)
