// Package changelog resolves a deployment into a commit range and aggregates the commits,
// pull requests and issues it introduces.
package changelog

import (
	"context"

	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/pagination"
)

// CommitProvider lists commits and their pull requests from source control
type CommitProvider interface {
	// CompareCommits walks the commits reachable from `from` but not from `to`
	CompareCommits(project, repo, from, to string) pagination.Cursor[models.Commit]
	// PullRequestsForCommit walks the pull requests that contain a commit
	PullRequestsForCommit(project, repo, commitID string) pagination.Cursor[models.PullRequest]
	// IssueReferences returns the issue keys a pull request links to
	IssueReferences(ctx context.Context, project, repo string, pullRequestID int64) ([]models.IssueReference, error)
}

// IssueProvider fetches issue details from the issue tracker
type IssueProvider interface {
	GetIssue(ctx context.Context, key string) (*models.Issue, error)
}

// DeploymentStateProvider reports which artifact versions sit in an application's environments
type DeploymentStateProvider interface {
	GetEnvironmentStates(ctx context.Context, appName string, environments []string) (*models.EnvironmentStates, error)
}

// CommitSpecifier is either a CommitRange or an EnvironmentDescriptor
type CommitSpecifier interface {
	isCommitSpecifier()
}

// CommitRange names the commits explicitly
type CommitRange struct {
	Project     string
	Repository  string
	StartCommit string
	EndCommit   string
}

// EnvironmentDescriptor derives the range from the deployment state of an environment
type EnvironmentDescriptor struct {
	Client          DeploymentStateProvider
	ApplicationName string
	EnvironmentName string
}

func (CommitRange) isCommitSpecifier()           {}
func (EnvironmentDescriptor) isCommitSpecifier() {}
