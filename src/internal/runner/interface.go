package runner

import (
	"context"
	"fmt"

	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
)

type RunnerInterface interface {
	// Initialize the runner with necessary context and data
	Initialize() error

	// Main routine to process the runner
	Process() error

	// Handling the export
	Output(changelog *models.Changelog) error
}

// New creates the runner for the run mode in options
func New(ctx context.Context, options *Options, cfg *config.Config, clients *Clients, m *metrics.Recorder) (RunnerInterface, error) {
	switch options.RunMode {
	case RUN_MODE_RANGE:
		return NewRunnerRange(ctx, options, cfg, clients, m)
	case RUN_MODE_SPINNAKER:
		return NewRunnerSpinnaker(ctx, options, cfg, clients, m)
	default:
		return nil, fmt.Errorf("invalid run mode: %s", options.RunMode)
	}
}
