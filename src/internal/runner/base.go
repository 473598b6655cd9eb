package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gh-nvat/deployment-changelog/src/pkg/changelog"
	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/policy"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var logger = log.WithField("package", "runner")

// ErrPolicyBlocked is returned after output when a blocking policy failed
var ErrPolicyBlocked = errors.New("blocked by policy")

type RunnerBase struct {
	Context context.Context
	Options *Options
	Config  *config.Config

	Clients    *Clients
	Aggregator *changelog.Aggregator
	Evaluator  *policy.Evaluator
	Reporter   *policy.Reporter
	Metrics    *metrics.Recorder

	// Stdout receives the changelog when output.path is empty
	Stdout io.Writer

	policyConfig *config.ComplianceConfig
	// PolicyReport is set by Process when a compliance config is configured
	PolicyReport *config.PolicyReportData
}

func NewRunnerBase(
	ctx context.Context,
	options *Options,
	cfg *config.Config,
	clients *Clients,
	m *metrics.Recorder,
) (*RunnerBase, error) {
	if clients == nil || clients.Commits == nil || clients.Issues == nil {
		return nil, fmt.Errorf("commit and issue providers are required")
	}
	return &RunnerBase{
		Context: ctx,
		Options: options,
		Config:  cfg,
		Clients: clients,
		Aggregator: changelog.NewAggregator(clients.Commits, clients.Issues,
			changelog.WithConcurrency(cfg.Changelog.Concurrency),
			changelog.WithMetrics(m),
		),
		Evaluator: policy.NewEvaluator(),
		Reporter:  policy.NewReporter(),
		Metrics:   m,
		Stdout:    os.Stdout,
	}, nil
}

// Initialize loads and validates the compliance config when one is configured
func (r *RunnerBase) Initialize() error {
	logger.Info("Initializing runner: starting...")

	if err := r.Options.Validate(r.Config.SCM.Provider); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	if r.Config.Policy.Config != "" {
		logger.WithField("config", r.Config.Policy.Config).Info("Initialize runner: loading and validating policy configuration")
		cfg, err := r.Evaluator.LoadAndValidate(r.Config.Policy.Config, r.Config.Policy.Dir)
		if err != nil {
			return fmt.Errorf("failed to load policy config: %w", err)
		}
		r.policyConfig = cfg
		logger.WithField("policies", len(cfg.Policies)).Info("Loaded policies")
	}

	logger.Info("Initialize runner: done.")
	return nil
}

// run builds the changelog for specifier, writes it and applies the policy gate
func (r *RunnerBase) run(specifier changelog.CommitSpecifier) error {
	logger.Info("Process: starting...")

	cl, err := r.Aggregator.Build(r.Context, specifier)
	if err != nil {
		return fmt.Errorf("failed to build changelog: %w", err)
	}

	enforcement, err := r.EvaluatePolicies(cl)
	if err != nil {
		return err
	}

	if err := r.Output(cl); err != nil {
		return err
	}
	if err := r.Metrics.WriteTextfile(r.Config.Metrics.Textfile); err != nil {
		logger.WithError(err).Warn("Failed to write metrics textfile")
	}

	logger.Info("Process: done.")
	if enforcement != nil && enforcement.ShouldBlock {
		return fmt.Errorf("%w: %s", ErrPolicyBlocked, enforcement.Summary)
	}
	return nil
}

// EvaluatePolicies runs the policy gate. It returns nil when no compliance config is loaded.
func (r *RunnerBase) EvaluatePolicies(cl *models.Changelog) (*config.EnforcementResult, error) {
	if r.policyConfig == nil {
		return nil, nil
	}
	logger.Info("EvaluatePolicies: starting...")

	result, err := r.Evaluator.Evaluate(r.Context, cl, r.policyConfig, r.Config.Policy.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policies: %w", err)
	}
	overrides := policy.OverrideSet(r.Config.Policy.Overrides)
	r.Evaluator.ApplyOverrides(result, overrides)
	enforcement := r.Evaluator.Enforce(result, overrides)
	r.PolicyReport = r.Reporter.GenerateReport(result)
	if path := r.Config.Policy.Report; path != "" {
		if err := r.Reporter.WriteReport(r.PolicyReport, path); err != nil {
			return nil, err
		}
	}

	for _, detail := range r.PolicyReport.Details {
		entry := logger.WithField("policy", detail.Name).WithField("status", detail.Status).WithField("level", detail.Level)
		if detail.Overridden {
			entry = entry.WithField("overridden", true)
		}
		for _, v := range detail.Violations {
			entry.Warn(v)
		}
		if detail.Error != "" {
			entry.Error(detail.Error)
		}
	}

	entry := logger.WithField("summary", enforcement.Summary)
	switch {
	case enforcement.ShouldBlock:
		entry.Error("EvaluatePolicies: done.")
	case enforcement.ShouldWarn:
		entry.Warn("EvaluatePolicies: done.")
	default:
		entry.Info("EvaluatePolicies: done.")
	}
	return enforcement, nil
}

// Output writes the changelog as JSON or YAML to output.path, or to stdout
func (r *RunnerBase) Output(cl *models.Changelog) error {
	logger.Info("Output: starting...")

	data, err := Marshal(cl, r.Config.Output.Format)
	if err != nil {
		return err
	}

	path := r.Config.Output.Path
	if path == "" {
		if _, err := r.Stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write changelog: %w", err)
		}
		logger.Info("Output: done.")
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.WithField("filePath", path).WithField("error", err).Error("Failed to write changelog to file")
		return err
	}
	logger.WithField("filePath", path).Info("Written changelog to file")
	return nil
}

// Marshal renders the changelog in the given output format, newline-terminated
func Marshal(cl *models.Changelog, format string) ([]byte, error) {
	switch format {
	case config.OUTPUT_FORMAT_YAML:
		data, err := yaml.Marshal(cl)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal changelog as yaml: %w", err)
		}
		return data, nil
	case config.OUTPUT_FORMAT_JSON, "":
		data, err := json.MarshalIndent(cl, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal changelog as json: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
