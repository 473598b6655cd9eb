package changelog

import (
	"context"
	"fmt"

	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/pagination"
	"github.com/gh-nvat/deployment-changelog/src/pkg/trace"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var logger = log.WithField("package", "changelog")

const (
	DEFAULT_CONCURRENCY = 8

	STAGE_COMMITS          = "commits"
	STAGE_PULL_REQUESTS    = "pull_requests"
	STAGE_ISSUE_REFERENCES = "issue_references"
	STAGE_ISSUES           = "issues"
)

// Aggregator builds changelogs from a commit provider and an issue provider
type Aggregator struct {
	commits     CommitProvider
	issues      IssueProvider
	concurrency int
	metrics     *metrics.Recorder
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithConcurrency caps the number of in-flight calls per fan-out stage. Values <= 0 remove the cap.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		a.concurrency = n
	}
}

// WithMetrics records per-stage item counts
func WithMetrics(m *metrics.Recorder) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// NewAggregator creates a new aggregator
func NewAggregator(commits CommitProvider, issues IssueProvider, opts ...Option) *Aggregator {
	a := &Aggregator{
		commits:     commits,
		issues:      issues,
		concurrency: DEFAULT_CONCURRENCY,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build resolves the specifier and aggregates the changelog of the resulting range.
// Any failure aborts the whole run; there is no partial changelog.
func (a *Aggregator) Build(ctx context.Context, specifier CommitSpecifier) (*models.Changelog, error) {
	var commitRange CommitRange
	switch s := specifier.(type) {
	case CommitRange:
		commitRange = s
	case EnvironmentDescriptor:
		resolved, err := ResolveEnvironment(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve commit range: %w", err)
		}
		commitRange = resolved
	default:
		return nil, fmt.Errorf("unsupported commit specifier %T", specifier)
	}

	return a.build(ctx, commitRange)
}

func (a *Aggregator) build(ctx context.Context, r CommitRange) (*models.Changelog, error) {
	ctx, span := trace.StartSpan(ctx, "build_changelog")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", r.Project),
		attribute.String("repo", r.Repository),
		attribute.String("start", r.StartCommit),
		attribute.String("end", r.EndCommit),
	)

	commits, err := a.listCommits(ctx, r)
	if err != nil {
		return nil, err
	}
	pullRequests, err := a.collectPullRequests(ctx, r, commits)
	if err != nil {
		return nil, err
	}
	refs, err := a.collectIssueReferences(ctx, r, pullRequests)
	if err != nil {
		return nil, err
	}
	issues, err := a.fetchIssues(ctx, refs)
	if err != nil {
		return nil, err
	}

	logger.WithField("commits", len(commits)).WithField("pullRequests", len(pullRequests)).
		WithField("issues", len(issues)).Info("Changelog assembled")
	return models.NewChangelog(commits, pullRequests, issues), nil
}

func (a *Aggregator) listCommits(ctx context.Context, r CommitRange) ([]models.Commit, error) {
	ctx, span := trace.StartSpan(ctx, "stage_"+STAGE_COMMITS)
	defer span.End()

	commits, err := pagination.DrainAll(ctx, a.commits.CompareCommits(r.Project, r.Repository, r.StartCommit, r.EndCommit))
	if err != nil {
		trace.Fail(span, err)
		return nil, fmt.Errorf("stage %s: failed to compare commits %s..%s in %s/%s: %w",
			STAGE_COMMITS, r.EndCommit, r.StartCommit, r.Project, r.Repository, err)
	}
	recordStage(span, a.metrics, STAGE_COMMITS, len(commits))
	return commits, nil
}

func (a *Aggregator) collectPullRequests(ctx context.Context, r CommitRange, commits []models.Commit) ([]models.PullRequest, error) {
	ctx, span := trace.StartSpan(ctx, "stage_"+STAGE_PULL_REQUESTS)
	defer span.End()

	perCommit, err := fanOut(ctx, a.concurrency, commits, func(ctx context.Context, c models.Commit) ([]models.PullRequest, error) {
		prs, err := pagination.DrainAll(ctx, a.commits.PullRequestsForCommit(r.Project, r.Repository, c.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to list pull requests for commit %s: %w", c.ID, err)
		}
		return prs, nil
	})
	if err != nil {
		trace.Fail(span, err)
		return nil, fmt.Errorf("stage %s: %w", STAGE_PULL_REQUESTS, err)
	}

	prs := flattenUnique(perCommit, func(pr models.PullRequest) models.PullRequest { return pr })
	recordStage(span, a.metrics, STAGE_PULL_REQUESTS, len(prs))
	return prs, nil
}

func (a *Aggregator) collectIssueReferences(ctx context.Context, r CommitRange, prs []models.PullRequest) ([]models.IssueReference, error) {
	ctx, span := trace.StartSpan(ctx, "stage_"+STAGE_ISSUE_REFERENCES)
	defer span.End()

	perPR, err := fanOut(ctx, a.concurrency, prs, func(ctx context.Context, pr models.PullRequest) ([]models.IssueReference, error) {
		refs, err := a.commits.IssueReferences(ctx, r.Project, r.Repository, pr.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get issue references for pull request %d: %w", pr.ID, err)
		}
		return refs, nil
	})
	if err != nil {
		trace.Fail(span, err)
		return nil, fmt.Errorf("stage %s: %w", STAGE_ISSUE_REFERENCES, err)
	}

	refs := flattenUnique(perPR, func(ref models.IssueReference) string { return ref.Key })
	recordStage(span, a.metrics, STAGE_ISSUE_REFERENCES, len(refs))
	return refs, nil
}

func (a *Aggregator) fetchIssues(ctx context.Context, refs []models.IssueReference) ([]models.Issue, error) {
	ctx, span := trace.StartSpan(ctx, "stage_"+STAGE_ISSUES)
	defer span.End()

	issues, err := fanOut(ctx, a.concurrency, refs, func(ctx context.Context, ref models.IssueReference) (models.Issue, error) {
		issue, err := a.issues.GetIssue(ctx, ref.Key)
		if err != nil {
			return models.Issue{}, fmt.Errorf("failed to get issue %s: %w", ref.Key, err)
		}
		if issue == nil {
			return models.Issue{}, fmt.Errorf("issue %s: empty response", ref.Key)
		}
		return *issue, nil
	})
	if err != nil {
		trace.Fail(span, err)
		return nil, fmt.Errorf("stage %s: %w", STAGE_ISSUES, err)
	}

	recordStage(span, a.metrics, STAGE_ISSUES, len(issues))
	return issues, nil
}

func recordStage(span oteltrace.Span, m *metrics.Recorder, stage string, count int) {
	logger.WithField("stage", stage).WithField("count", count).Debug("Stage complete")
	span.SetAttributes(attribute.Int(trace.ATTR_ITEMS, count))
	m.SetStageItems(stage, count)
}
