package githost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// GitHub implements Client and TreeFetcher against the GitHub API.
type GitHub struct {
	client  *github.Client
	timeout time.Duration
}

// Opts holds parameters for creating a GitHub client.
type Opts struct {
	Token   string
	APIURL  string // empty for github.com; base URL for GitHub Enterprise
	Timeout time.Duration
}

// NewGitHub creates an authenticated GitHub client.
func NewGitHub(opts Opts) (*GitHub, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("githost: token is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = opts.Timeout

	client := github.NewClient(httpClient)
	if opts.APIURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(opts.APIURL, opts.APIURL)
		if err != nil {
			return nil, fmt.Errorf("githost: enterprise url %q: %w", opts.APIURL, err)
		}
	}
	return &GitHub{client: client, timeout: opts.Timeout}, nil
}

// defaultBranch returns the repository's default branch name.
func (g *GitHub) defaultBranch(ctx context.Context, owner, name string) (string, error) {
	repo, _, err := g.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", err
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}
	return branch, nil
}

// FetchTree reads the repository's default-branch tree, returning path ->
// content for every blob.
func (g *GitHub) FetchTree(ctx context.Context, repo string) (map[string]string, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	base, err := g.defaultBranch(ctx, owner, name)
	if err != nil {
		return nil, g.wrap("fetch tree "+repo, err)
	}
	tree, _, err := g.client.Git.GetTree(ctx, owner, name, base, true)
	if err != nil {
		return nil, g.wrap("fetch tree "+repo, err)
	}

	files := make(map[string]string)
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		raw, _, err := g.client.Git.GetBlobRaw(ctx, owner, name, entry.GetSHA())
		if err != nil {
			return nil, g.wrap("fetch blob "+entry.GetPath(), err)
		}
		files[entry.GetPath()] = string(raw)
	}
	return files, nil
}

// CreateBranch creates branch from the default branch head. An existing
// branch of the same name is success, not a conflict.
func (g *GitHub) CreateBranch(ctx context.Context, repo, branch string) error {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	base, err := g.defaultBranch(ctx, owner, name)
	if err != nil {
		return g.wrap("create branch "+branch, err)
	}
	baseRef, _, err := g.client.Git.GetRef(ctx, owner, name, "refs/heads/"+base)
	if err != nil {
		return g.wrap("create branch "+branch, err)
	}

	_, _, err = g.client.Git.CreateRef(ctx, owner, name, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	})
	if err != nil {
		if alreadyExists(err) {
			return nil
		}
		return g.wrap("create branch "+branch, err)
	}
	return nil
}

// CommitFiles writes the files as one commit on branch via the Git Data API:
// blobs, then a tree on the branch head, then a commit, then a ref update.
func (g *GitHub) CommitFiles(ctx context.Context, repo, branch, message string, files []CommitFile) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("githost: commit on %s: no files", branch)
	}
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	headRef, _, err := g.client.Git.GetRef(ctx, owner, name, "refs/heads/"+branch)
	if err != nil {
		return "", g.wrap("commit on "+branch, err)
	}
	headSHA := headRef.Object.GetSHA()

	entries := make([]*github.TreeEntry, 0, len(files))
	for _, f := range files {
		blob, _, err := g.client.Git.CreateBlob(ctx, owner, name, &github.Blob{
			Content:  github.Ptr(f.Content),
			Encoding: github.Ptr("utf-8"),
		})
		if err != nil {
			return "", g.wrap("create blob "+f.Path, err)
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.Ptr(f.Path),
			Mode: github.Ptr("100644"),
			Type: github.Ptr("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, _, err := g.client.Git.CreateTree(ctx, owner, name, headSHA, entries)
	if err != nil {
		return "", g.wrap("create tree on "+branch, err)
	}

	commit, _, err := g.client.Git.CreateCommit(ctx, owner, name, &github.Commit{
		Message: github.Ptr(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.Ptr(headSHA)}},
	}, nil)
	if err != nil {
		return "", g.wrap("create commit on "+branch, err)
	}

	headRef.Object.SHA = commit.SHA
	if _, _, err := g.client.Git.UpdateRef(ctx, owner, name, headRef, false); err != nil {
		return "", g.wrap("update ref "+branch, err)
	}
	return commit.GetSHA(), nil
}

// CreatePullRequest opens a PR from branch against the default branch.
func (g *GitHub) CreatePullRequest(ctx context.Context, repo, branch, title, body string) (string, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	base, err := g.defaultBranch(ctx, owner, name)
	if err != nil {
		return "", g.wrap("create pr from "+branch, err)
	}

	pr, _, err := g.client.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(base),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return "", g.wrap("create pr from "+branch, err)
	}
	return pr.GetHTMLURL(), nil
}

// wrap classifies a remote failure into the error taxonomy while keeping
// the underlying message.
func (g *GitHub) wrap(op string, err error) error {
	return fmt.Errorf("githost: %s: %w: %v", op, Classify(err), err)
}

// Classify maps a go-github error to one of the retryability sentinels.
func Classify(err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return ErrRateLimited
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return ErrAuthFailure
		case http.StatusForbidden:
			if strings.Contains(strings.ToLower(respErr.Message), "rate limit") {
				return ErrRateLimited
			}
			return ErrAuthFailure
		case http.StatusNotFound:
			return ErrRepoMissing
		}
	}

	// Timeouts and transport failures are retryable host-side errors.
	return ErrRemoteError
}

// alreadyExists reports whether a ref-creation error means the branch is
// already there.
func alreadyExists(err error) bool {
	var respErr *github.ErrorResponse
	if !errors.As(err, &respErr) {
		return false
	}
	if respErr.Response != nil && respErr.Response.StatusCode == http.StatusUnprocessableEntity {
		return strings.Contains(strings.ToLower(respErr.Message), "already exists")
	}
	return false
}
