// Package githost wraps the remote version-control host: branch creation,
// multi-file commits, and pull requests. It never touches local sandbox state.
package githost

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classifying remote failures. AuthFailure is fatal;
// RateLimited and RemoteError are retryable with backoff.
var (
	ErrAuthFailure = errors.New("auth failure")
	ErrRateLimited = errors.New("rate limited")
	ErrRemoteError = errors.New("remote error")
	ErrRepoMissing = errors.New("repository not found")
)

// CommitFile is one file in a multi-file commit.
type CommitFile struct {
	Path    string
	Content string
}

// Client is the side-effecting boundary to the git host.
type Client interface {
	// CreateBranch creates branch from the repository's default branch.
	// Creating a branch that already exists is treated as success so
	// retries are idempotent.
	CreateBranch(ctx context.Context, repo, branch string) error

	// CommitFiles commits the given files onto branch and returns the
	// commit SHA.
	CommitFiles(ctx context.Context, repo, branch, message string, files []CommitFile) (string, error)

	// CreatePullRequest opens a pull request from branch against the
	// default branch and returns its URL.
	CreatePullRequest(ctx context.Context, repo, branch, title, body string) (string, error)
}

// TreeFetcher reads a repository's current file tree.
type TreeFetcher interface {
	FetchTree(ctx context.Context, repo string) (map[string]string, error)
}

// BranchName derives the deterministic branch name for a job, so a retried
// pipeline recreates the same branch instead of piling up new ones.
func BranchName(jobID string) string {
	return "bolton/" + jobID
}

// SplitRepo splits an owner/name reference.
func SplitRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("githost: repo %q must be owner/name", repo)
	}
	return parts[0], parts[1], nil
}
