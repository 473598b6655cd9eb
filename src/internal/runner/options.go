package runner

import (
	"errors"
	"fmt"

	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
)

const (
	RUN_MODE_RANGE     = "range"
	RUN_MODE_SPINNAKER = "spinnaker"
)

var ErrMissingOption = errors.New("missing required option")

type Options struct {
	// Run mode
	RunMode string // "range" or "spinnaker"

	// Range mode options
	Project     string
	Repository  string
	StartCommit string
	EndCommit   string

	// Spinnaker mode options
	Application string
	Environment string
}

// Validate checks that the options required by the run mode are set. Only GitHub can
// take the owner from an "owner/name" repo, so every other provider needs --project.
func (o *Options) Validate(scmProvider string) error {
	var required map[string]string
	switch o.RunMode {
	case RUN_MODE_RANGE:
		required = map[string]string{
			"repo":         o.Repository,
			"start-commit": o.StartCommit,
			"end-commit":   o.EndCommit,
		}
		if scmProvider != config.SCM_PROVIDER_GITHUB {
			required["project"] = o.Project
		}
	case RUN_MODE_SPINNAKER:
		required = map[string]string{
			"app": o.Application,
			"env": o.Environment,
		}
	default:
		return fmt.Errorf("invalid run mode: %s", o.RunMode)
	}

	for _, name := range []string{"project", "repo", "start-commit", "end-commit", "app", "env"} {
		if value, ok := required[name]; ok && value == "" {
			return fmt.Errorf("%w: --%s", ErrMissingOption, name)
		}
	}
	return nil
}
