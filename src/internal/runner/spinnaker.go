package runner

import (
	"context"
	"fmt"

	"github.com/gh-nvat/deployment-changelog/src/pkg/changelog"
	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
)

// RunnerSpinnaker builds the changelog between the current and the pending version of a Spinnaker environment
type RunnerSpinnaker struct {
	RunnerBase
}

// make RunnerSpinnaker implement RunnerInterface
var _ RunnerInterface = (*RunnerSpinnaker)(nil)

func NewRunnerSpinnaker(
	ctx context.Context,
	options *Options,
	cfg *config.Config,
	clients *Clients,
	m *metrics.Recorder,
) (*RunnerSpinnaker, error) {
	if clients == nil || clients.States == nil {
		return nil, fmt.Errorf("spinnaker client is not initialized, set spinnaker.url")
	}
	baseRunner, err := NewRunnerBase(ctx, options, cfg, clients, m)
	if err != nil {
		return nil, err
	}
	return &RunnerSpinnaker{RunnerBase: *baseRunner}, nil
}

func (r *RunnerSpinnaker) Initialize() error {
	return r.RunnerBase.Initialize()
}

func (r *RunnerSpinnaker) Process() error {
	logger.WithField("app", r.Options.Application).WithField("env", r.Options.Environment).
		Info("Building changelog for Spinnaker environment")
	return r.run(changelog.EnvironmentDescriptor{
		Client:          r.Clients.States,
		ApplicationName: r.Options.Application,
		EnvironmentName: r.Options.Environment,
	})
}

func (r *RunnerSpinnaker) Output(cl *models.Changelog) error {
	return r.RunnerBase.Output(cl)
}
