package runner

import (
	"context"

	"github.com/gh-nvat/deployment-changelog/src/pkg/changelog"
	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
)

// RunnerRange builds the changelog of an explicit commit range
type RunnerRange struct {
	RunnerBase
}

// make RunnerRange implement RunnerInterface
var _ RunnerInterface = (*RunnerRange)(nil)

func NewRunnerRange(
	ctx context.Context,
	options *Options,
	cfg *config.Config,
	clients *Clients,
	m *metrics.Recorder,
) (*RunnerRange, error) {
	baseRunner, err := NewRunnerBase(ctx, options, cfg, clients, m)
	if err != nil {
		return nil, err
	}
	return &RunnerRange{RunnerBase: *baseRunner}, nil
}

func (r *RunnerRange) Initialize() error {
	return r.RunnerBase.Initialize()
}

func (r *RunnerRange) Process() error {
	logger.WithField("project", r.Options.Project).WithField("repo", r.Options.Repository).
		WithField("start", r.Options.StartCommit).WithField("end", r.Options.EndCommit).
		Info("Building changelog for commit range")
	return r.run(changelog.CommitRange{
		Project:     r.Options.Project,
		Repository:  r.Options.Repository,
		StartCommit: r.Options.StartCommit,
		EndCommit:   r.Options.EndCommit,
	})
}

func (r *RunnerRange) Output(cl *models.Changelog) error {
	return r.RunnerBase.Output(cl)
}
