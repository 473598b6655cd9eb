// Package github reads commits, pull requests and their Jira keys from GitHub or GitHub Enterprise.
package github

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gh-nvat/deployment-changelog/src/pkg/changelog"
	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/pagination"
	"github.com/gh-nvat/deployment-changelog/src/pkg/rest"
	"github.com/google/go-github/v66/github"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "github")

const (
	SERVICE_NAME     = "github"
	DEFAULT_PER_PAGE = 100
	PR_STATE_OPEN    = "open"
)

// Config is captured once when the client is built
type Config struct {
	// BaseURL selects a GitHub Enterprise API root; empty means api.github.com
	BaseURL string
	Token   string
	Timeout time.Duration
	// IssueURL builds the link of an issue key; nil leaves links empty
	IssueURL func(key string) string
	// IssueProjects restricts extracted keys to these Jira projects
	IssueProjects []string
	PerPage       int

	Transport http.RoundTripper
	Metrics   *metrics.Recorder
}

// Client handles GitHub API interactions using go-github
type Client struct {
	client   *github.Client
	issueURL func(key string) string
	keys     *IssueKeyMatcher
	perPage  int
	metrics  *metrics.Recorder
}

// Ensure Client implements changelog.CommitProvider
var _ changelog.CommitProvider = (*Client)(nil)

// NewClient creates a new GitHub client
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("GitHub token not found. Set github.token, GH_TOKEN or GITHUB_TOKEN")
	}

	hc := rest.NewHTTPClient(rest.Config{
		Service:   SERVICE_NAME,
		Timeout:   cfg.Timeout,
		Token:     cfg.Token,
		Transport: cfg.Transport,
	})
	client := github.NewClient(hc)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure GitHub Enterprise URL %s: %w", cfg.BaseURL, err)
		}
	}

	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = DEFAULT_PER_PAGE
	}

	return &Client{
		client:   client,
		issueURL: cfg.IssueURL,
		keys:     NewIssueKeyMatcher(cfg.IssueProjects),
		perPage:  perPage,
		metrics:  cfg.Metrics,
	}, nil
}

// CompareCommits lists the commits reachable from `from` but not from `to`
func (c *Client) CompareCommits(project, repo, from, to string) pagination.Cursor[models.Commit] {
	return newCursor(func(ctx context.Context, opts *github.ListOptions) ([]models.Commit, *github.Response, error) {
		owner, name, err := resolveOwnerRepo(project, repo)
		if err != nil {
			return nil, nil, err
		}

		var cmp *github.CommitsComparison
		var resp *github.Response
		err = c.observe("compare_commits", func() error {
			cmp, resp, err = c.client.Repositories.CompareCommits(ctx, owner, name, to, from, opts)
			return err
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to compare %s...%s in %s/%s: %w", to, from, owner, name, err)
		}

		commits := make([]models.Commit, 0, len(cmp.Commits))
		for _, rc := range cmp.Commits {
			commits = append(commits, toCommit(rc))
		}
		return commits, resp, nil
	}, c.perPage)
}

// PullRequestsForCommit lists the pull requests containing a commit
func (c *Client) PullRequestsForCommit(project, repo, commitID string) pagination.Cursor[models.PullRequest] {
	return newCursor(func(ctx context.Context, opts *github.ListOptions) ([]models.PullRequest, *github.Response, error) {
		owner, name, err := resolveOwnerRepo(project, repo)
		if err != nil {
			return nil, nil, err
		}

		var prs []*github.PullRequest
		var resp *github.Response
		err = c.observe("list_pull_requests_with_commit", func() error {
			prs, resp, err = c.client.PullRequests.ListPullRequestsWithCommit(ctx, owner, name, commitID, opts)
			return err
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list pull requests for commit %s in %s/%s: %w", ShortSHA(commitID), owner, name, err)
		}

		out := make([]models.PullRequest, 0, len(prs))
		for _, pr := range prs {
			out = append(out, toPullRequest(pr))
		}
		return out, resp, nil
	}, c.perPage)
}

// IssueReferences extracts the Jira keys mentioned in a pull request's title, body and head branch
func (c *Client) IssueReferences(ctx context.Context, project, repo string, pullRequestID int64) ([]models.IssueReference, error) {
	owner, name, err := resolveOwnerRepo(project, repo)
	if err != nil {
		return nil, err
	}

	var pr *github.PullRequest
	err = c.observe("get_pull_request", func() error {
		pr, _, err = c.client.PullRequests.Get(ctx, owner, name, int(pullRequestID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %d in %s/%s: %w", pullRequestID, owner, name, err)
	}

	keys := c.keys.Extract(pr.GetTitle(), pr.GetBody(), pr.GetHead().GetRef())
	logger.WithField("pr", pullRequestID).WithField("keys", keys).Debug("Extracted issue keys")

	refs := make([]models.IssueReference, 0, len(keys))
	for _, key := range keys {
		ref := models.IssueReference{Key: key}
		if c.issueURL != nil {
			ref.URL = c.issueURL(key)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (c *Client) observe(method string, call func() error) error {
	started := time.Now()
	err := call()
	c.metrics.ObserveRequest(SERVICE_NAME, method, time.Since(started), err)
	return err
}

func toCommit(rc *github.RepositoryCommit) models.Commit {
	commit := rc.GetCommit()
	return models.Commit{
		ID:        rc.GetSHA(),
		DisplayID: ShortSHA(rc.GetSHA()),
		Author:    toAuthor(commit.GetAuthor(), rc.GetAuthor()),
		Committer: toAuthor(commit.GetCommitter(), rc.GetCommitter()),
		Message:   commit.GetMessage(),
	}
}

func toAuthor(ca *github.CommitAuthor, user *github.User) models.Author {
	name := user.GetLogin()
	if name == "" {
		name = ca.GetLogin()
	}
	if name == "" {
		name = ca.GetName()
	}
	return models.Author{
		Name:         name,
		EmailAddress: ca.GetEmail(),
		DisplayName:  ca.GetName(),
	}
}

func toPullRequest(pr *github.PullRequest) models.PullRequest {
	user := pr.GetUser()
	return models.PullRequest{
		ID:          int64(pr.GetNumber()),
		Title:       pr.GetTitle(),
		Description: pr.GetBody(),
		Open:        pr.GetState() == PR_STATE_OPEN,
		Author: models.PullRequestAuthor{
			User: models.Author{
				Name:         user.GetLogin(),
				EmailAddress: user.GetEmail(),
				DisplayName:  user.GetName(),
			},
		},
		CreatedDate: pr.GetCreatedAt().UTC(),
		UpdatedDate: pr.GetUpdatedAt().UTC(),
	}
}

// cursor walks a GitHub list endpoint by following the Link header page numbers
type cursor[T any] struct {
	fetch     func(ctx context.Context, opts *github.ListOptions) ([]T, *github.Response, error)
	opts      github.ListOptions
	exhausted bool
}

func newCursor[T any](fetch func(context.Context, *github.ListOptions) ([]T, *github.Response, error), perPage int) *cursor[T] {
	return &cursor[T]{
		fetch: fetch,
		opts:  github.ListOptions{PerPage: perPage},
	}
}

// Next fetches the current page and moves to the one named by the response
func (c *cursor[T]) Next(ctx context.Context) ([]T, error) {
	if c.exhausted {
		return nil, pagination.ErrExhaustedCursor
	}

	opts := c.opts
	items, resp, err := c.fetch(ctx, &opts)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.NextPage == 0 {
		c.exhausted = true
		return items, nil
	}
	if resp.NextPage <= c.opts.Page {
		return nil, fmt.Errorf("next page %d does not advance past page %d: %w", resp.NextPage, c.opts.Page, pagination.ErrInconsistentPage)
	}
	c.opts.Page = resp.NextPage
	return items, nil
}

// IsExhausted reports whether the last page has been fetched
func (c *cursor[T]) IsExhausted() bool {
	return c.exhausted
}
