package main

import (
	"fmt"
	"os"

	"github.com/gh-nvat/deployment-changelog/src/internal/runner"
	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// globalOptions are the flags shared by every subcommand
type globalOptions struct {
	configPath string
	envFile    string
	bindings   config.FlagBindings
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	global := &globalOptions{bindings: config.FlagBindings{}}

	cmd := &cobra.Command{
		Use:   "deployment-changelog",
		Short: "Changelog of the commits, pull requests and issues a deployment ships",
		Long: `deployment-changelog lists what a deployment introduces. It walks the commits between two
revisions in Bitbucket Server or GitHub, collects the pull requests that merged them and the Jira
issues those pull requests reference. The range is given explicitly or derived from the pending
and current versions of a Spinnaker managed-delivery environment.`,
		Version:       fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&global.configPath, "config", "", "Config file (default: .deployment-changelog.yaml in . or $HOME)")
	flags.StringVar(&global.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment, if present")

	bind := func(key, name, value, usage string) {
		flags.String(name, value, usage)
		global.bindings[key] = flags.Lookup(name)
	}
	bind("scm.provider", "scm-provider", config.SCM_PROVIDER_BITBUCKET, "Source control provider: bitbucket or github")
	bind("bitbucket.url", "bitbucket-url", "", "Bitbucket Server base URL")
	bind("github.url", "github-url", "", "GitHub Enterprise API URL (default: api.github.com)")
	bind("jira.url", "jira-url", "", "Jira base URL")
	bind("jira.username", "jira-username", "", "Jira username for basic auth (token is used as password)")
	bind("spinnaker.url", "spinnaker-url", "", "Spinnaker gate URL")
	bind("output.format", "output", config.OUTPUT_FORMAT_JSON, "Output format: json or yaml")
	bind("output.path", "output-file", "", "Write the changelog to this file instead of stdout")
	bind("logging.level", "log-level", config.DEFAULT_LOG_LEVEL, "Log level: trace, debug, info, warn, error")
	bind("logging.format", "log-format", config.LOG_FORMAT_TEXT, "Log format: text or json")
	bind("policy.config", "policy-config", "", "Compliance config enabling the policy gate")
	bind("policy.dir", "policies-path", ".", "Directory holding the policy files")
	bind("policy.report", "policy-report", "", "Write the policy report to this file (.json, .yaml or .yml)")
	bind("metrics.textfile", "metrics-textfile", "", "Write run metrics in node_exporter textfile format")

	flags.Int("concurrency", config.DEFAULT_CONCURRENCY, "Maximum in-flight upstream calls per fan-out stage (<= 0: unbounded)")
	global.bindings["changelog.concurrency"] = flags.Lookup("concurrency")
	flags.Duration("timeout", config.DEFAULT_HTTP_TIMEOUT, "Timeout of each upstream HTTP request")
	global.bindings["http.timeout"] = flags.Lookup("timeout")
	flags.Bool("trace", false, "Record a performance report of the run")
	global.bindings["trace.enabled"] = flags.Lookup("trace")
	flags.StringSlice("jira-projects", []string{}, "Jira project keys accepted in GitHub pull request text (comma-separated)")
	global.bindings["jira.projects"] = flags.Lookup("jira-projects")
	flags.StringSlice("policy-override", []string{}, "Policy ids whose failures do not block (comma-separated)")
	global.bindings["policy.overrides"] = flags.Lookup("policy-override")

	cmd.AddCommand(newRangeCmd(global), newSpinnakerCmd(global))
	return cmd
}

func newRangeCmd(global *globalOptions) *cobra.Command {
	opts := &runner.Options{RunMode: runner.RUN_MODE_RANGE}

	cmd := &cobra.Command{
		Use:   "range",
		Short: "Changelog of an explicit commit range",
		Example: `  deployment-changelog range --project PROJ --repo service --start-commit abc123 --end-commit def456
  deployment-changelog range --scm-provider github --repo acme/service --start-commit v1.2.0 --end-commit v1.1.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "Bitbucket project key or GitHub owner")
	cmd.Flags().StringVar(&opts.Repository, "repo", "", "Repository slug (owner/name for GitHub when --project is empty)")
	cmd.Flags().StringVar(&opts.StartCommit, "start-commit", "", "Newest commit of the range (included)")
	cmd.Flags().StringVar(&opts.EndCommit, "end-commit", "", "Oldest commit of the range (excluded)")

	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("start-commit")
	_ = cmd.MarkFlagRequired("end-commit")

	return cmd
}

func newSpinnakerCmd(global *globalOptions) *cobra.Command {
	opts := &runner.Options{RunMode: runner.RUN_MODE_SPINNAKER}

	cmd := &cobra.Command{
		Use:     "spinnaker",
		Short:   "Changelog between the current and the pending version of a Spinnaker environment",
		Example: `  deployment-changelog spinnaker --spinnaker-url https://gate.example.com --app service --env production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Application, "app", "", "Spinnaker application name")
	cmd.Flags().StringVar(&opts.Environment, "env", "", "Managed-delivery environment name")

	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}
