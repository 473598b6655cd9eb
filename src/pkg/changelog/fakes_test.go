package changelog

import (
	"context"
	"fmt"
	"sync"

	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/pagination"
)

// pageCursor serves pre-baked pages, failing at failAt when set
type pageCursor[T any] struct {
	pages  [][]T
	next   int
	failAt int
	err    error
}

func newPageCursor[T any](pages ...[]T) *pageCursor[T] {
	return &pageCursor[T]{pages: pages, failAt: -1}
}

func (c *pageCursor[T]) Next(ctx context.Context) ([]T, error) {
	if c.IsExhausted() {
		return nil, pagination.ErrExhaustedCursor
	}
	if c.next == c.failAt {
		return nil, c.err
	}
	page := c.pages[c.next]
	c.next++
	return page, nil
}

func (c *pageCursor[T]) IsExhausted() bool {
	return c.next >= len(c.pages)
}

type fakeCommitProvider struct {
	commits [][]models.Commit
	// pull requests by commit id, one slice per page
	pullRequests map[string][][]models.PullRequest
	refs         map[int64][]models.IssueReference

	prErr  map[string]error
	refErr map[int64]error

	mu       sync.Mutex
	refCalls map[int64]int
}

func (f *fakeCommitProvider) CompareCommits(project, repo, from, to string) pagination.Cursor[models.Commit] {
	return newPageCursor(f.commits...)
}

func (f *fakeCommitProvider) PullRequestsForCommit(project, repo, commitID string) pagination.Cursor[models.PullRequest] {
	c := newPageCursor(f.pullRequests[commitID]...)
	if err, ok := f.prErr[commitID]; ok {
		c.failAt = 0
		c.err = err
		if len(c.pages) == 0 {
			c.pages = [][]models.PullRequest{nil}
		}
	}
	return c
}

func (f *fakeCommitProvider) IssueReferences(ctx context.Context, project, repo string, pullRequestID int64) ([]models.IssueReference, error) {
	f.mu.Lock()
	if f.refCalls == nil {
		f.refCalls = make(map[int64]int)
	}
	f.refCalls[pullRequestID]++
	f.mu.Unlock()

	if err, ok := f.refErr[pullRequestID]; ok {
		return nil, err
	}
	return f.refs[pullRequestID], nil
}

type fakeIssueProvider struct {
	mu    sync.Mutex
	calls map[string]int
	err   map[string]error
}

func (f *fakeIssueProvider) GetIssue(ctx context.Context, key string) (*models.Issue, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[key]++
	f.mu.Unlock()

	if err, ok := f.err[key]; ok {
		return nil, err
	}
	return &models.Issue{Key: key, Summary: fmt.Sprintf("summary of %s", key)}, nil
}

type fakeStateProvider struct {
	states *models.EnvironmentStates
	err    error

	gotApp  string
	gotEnvs []string
	calls   int
}

func (f *fakeStateProvider) GetEnvironmentStates(ctx context.Context, appName string, environments []string) (*models.EnvironmentStates, error) {
	f.calls++
	f.gotApp = appName
	f.gotEnvs = environments
	return f.states, f.err
}

func ptr(s string) *string {
	return &s
}

func pr(id int64, title string) models.PullRequest {
	return models.PullRequest{ID: id, Title: title, Open: false}
}

func ref(key string) models.IssueReference {
	return models.IssueReference{Key: key, URL: "https://jira.test/browse/" + key}
}
