// Package bitbucket reads commits, pull requests and their Jira links from Bitbucket Server.
package bitbucket

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gh-nvat/deployment-changelog/src/pkg/changelog"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/pagination"
	"github.com/gh-nvat/deployment-changelog/src/pkg/rest"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "bitbucket")

const (
	COMPARE_COMMITS_ENDPOINT = "rest/api/latest/projects/{projectKey}/repos/{repositorySlug}/compare/commits"
	PULL_REQUESTS_FOR_COMMIT = "rest/api/latest/projects/{projectKey}/repos/{repositorySlug}/commits/{commitId}/pull-requests"
	ISSUES_FOR_PULL_REQUEST  = "rest/jira/latest/projects/{projectKey}/repos/{repositorySlug}/pull-requests/{pullRequestId}/issues"
	PAGE_START_PARAM         = "start"
)

// Client reads from the Bitbucket Server REST API
type Client struct {
	client *rest.Client
}

// Ensure Client implements changelog.CommitProvider
var _ changelog.CommitProvider = (*Client)(nil)

// NewClient creates a new Bitbucket client on top of a REST client
func NewClient(client *rest.Client) *Client {
	return &Client{client: client}
}

// CompareCommits lists the commits reachable from `from` but not from `to`
func (c *Client) CompareCommits(project, repo, from, to string) pagination.Cursor[models.Commit] {
	path := expand(COMPARE_COMMITS_ENDPOINT, project, repo)
	query := url.Values{}
	query.Set("from", from)
	query.Set("to", to)
	return newCursor(c.client, path, query, toCommit)
}

// PullRequestsForCommit lists the pull requests containing a commit
func (c *Client) PullRequestsForCommit(project, repo, commitID string) pagination.Cursor[models.PullRequest] {
	path := strings.ReplaceAll(expand(PULL_REQUESTS_FOR_COMMIT, project, repo), "{commitId}", url.PathEscape(commitID))
	return newCursor(c.client, path, nil, toPullRequest)
}

// IssueReferences lists the Jira issues linked to a pull request. This endpoint is not paged.
func (c *Client) IssueReferences(ctx context.Context, project, repo string, pullRequestID int64) ([]models.IssueReference, error) {
	path := strings.ReplaceAll(expand(ISSUES_FOR_PULL_REQUEST, project, repo), "{pullRequestId}", strconv.FormatInt(pullRequestID, 10))

	var issues []pullRequestIssue
	if err := c.client.Get(ctx, path, nil, &issues); err != nil {
		return nil, fmt.Errorf("failed to get issues for pull request %d in %s/%s: %w", pullRequestID, project, repo, err)
	}

	refs := make([]models.IssueReference, 0, len(issues))
	for _, issue := range issues {
		refs = append(refs, toIssueReference(issue))
	}
	return refs, nil
}

func expand(endpoint, project, repo string) string {
	return strings.NewReplacer(
		"{projectKey}", url.PathEscape(project),
		"{repositorySlug}", url.PathEscape(repo),
	).Replace(endpoint)
}

// cursor walks a Bitbucket paged collection using the start/isLastPage protocol
type cursor[W any, T any] struct {
	client  *rest.Client
	path    string
	query   url.Values
	convert func(W) T
	state   pagination.PageState
}

func newCursor[W any, T any](client *rest.Client, path string, query url.Values, convert func(W) T) *cursor[W, T] {
	if query == nil {
		query = url.Values{}
	}
	return &cursor[W, T]{
		client:  client,
		path:    path,
		query:   query,
		convert: convert,
	}
}

// Next fetches the page starting at the current start index
func (c *cursor[W, T]) Next(ctx context.Context) ([]T, error) {
	if err := c.state.Check(); err != nil {
		return nil, err
	}

	query := url.Values{}
	for k, vs := range c.query {
		query[k] = append([]string(nil), vs...)
	}
	query.Set(PAGE_START_PARAM, strconv.Itoa(c.state.Start()))

	var p page[W]
	if err := c.client.Get(ctx, c.path, query, &p); err != nil {
		return nil, fmt.Errorf("failed to get page at start %d of %s: %w", c.state.Start(), c.path, err)
	}
	if err := c.state.Advance(p.Size, len(p.Values), p.IsLastPage, p.NextPageStart); err != nil {
		return nil, fmt.Errorf("page at start %d of %s: %w", c.state.Start(), c.path, err)
	}
	logger.WithField("path", c.path).WithField("size", p.Size).WithField("isLastPage", p.IsLastPage).Debug("Fetched page")

	items := make([]T, 0, len(p.Values))
	for _, v := range p.Values {
		items = append(items, c.convert(v))
	}
	return items, nil
}

// IsExhausted reports whether the last page has been fetched
func (c *cursor[W, T]) IsExhausted() bool {
	return c.state.IsExhausted()
}
