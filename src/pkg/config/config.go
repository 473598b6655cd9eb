package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gh-nvat/deployment-changelog/src/pkg/changelog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	CONFIG_NAME = ".deployment-changelog"
	CONFIG_TYPE = "yaml"
	ENV_PREFIX  = "DEPLOYMENT_CHANGELOG"

	SCM_PROVIDER_BITBUCKET = "bitbucket"
	SCM_PROVIDER_GITHUB    = "github"

	OUTPUT_FORMAT_JSON = "json"
	OUTPUT_FORMAT_YAML = "yaml"

	LOG_FORMAT_TEXT = "text"
	LOG_FORMAT_JSON = "json"

	DEFAULT_HTTP_TIMEOUT = 5 * time.Second
	DEFAULT_CONCURRENCY  = changelog.DEFAULT_CONCURRENCY
	DEFAULT_LOG_LEVEL    = "info"
	DEFAULT_TRACE_DIR    = "./output"
)

var (
	ErrInvalidSCMProvider  = errors.New("scm.provider must be bitbucket or github")
	ErrInvalidOutputFormat = errors.New("output.format must be json or yaml")
	ErrInvalidLogFormat    = errors.New("logging.format must be text or json")
	ErrInvalidHTTPTimeout  = errors.New("http.timeout must not be negative")
)

// Config is the application configuration. Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Bitbucket BitbucketConfig `mapstructure:"bitbucket"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Jira      JiraConfig      `mapstructure:"jira"`
	Spinnaker SpinnakerConfig `mapstructure:"spinnaker"`
	SCM       SCMConfig       `mapstructure:"scm"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Changelog ChangelogConfig `mapstructure:"changelog"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Output    OutputConfig    `mapstructure:"output"`
	Trace     TraceConfig     `mapstructure:"trace"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Policy    PolicyConfigRef `mapstructure:"policy"`
}

type BitbucketConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type GitHubConfig struct {
	// URL selects a GitHub Enterprise API root; empty means api.github.com
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type JiraConfig struct {
	URL      string   `mapstructure:"url"`
	Token    string   `mapstructure:"token"`
	Username string   `mapstructure:"username"`
	// Projects lists the project keys accepted when issue keys are parsed from free text
	Projects []string `mapstructure:"projects"`
}

type SpinnakerConfig struct {
	URL string `mapstructure:"url"`
}

type SCMConfig struct {
	Provider string `mapstructure:"provider"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChangelogConfig struct {
	// Concurrency caps in-flight calls per fan-out stage; <= 0 means unbounded
	Concurrency int `mapstructure:"concurrency"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
	// Path of the output file; empty means stdout
	Path string `mapstructure:"path"`
}

type TraceConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	OutputDir string `mapstructure:"output_dir"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// PolicyConfigRef points at the compliance config and the directory holding its rego files.
// An empty Config disables the policy gate.
type PolicyConfigRef struct {
	Config    string   `mapstructure:"config"`
	Dir       string   `mapstructure:"dir"`
	Overrides []string `mapstructure:"overrides"`
	// Report is where the policy report is written; empty skips it
	Report    string   `mapstructure:"report"`
}

// FlagBindings maps config keys to the command-line flags that override them
type FlagBindings map[string]*pflag.Flag

// LoadConfig loads configuration from defaults, the config file, DEPLOYMENT_CHANGELOG_* env vars
// and bound flags, in increasing precedence. If configPath is empty, .deployment-changelog.yaml
// is searched in CWD and $HOME; a missing file is not an error.
func LoadConfig(configPath string, flags FlagBindings) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(CONFIG_TYPE)
	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s to %s: %w", flag.Name, key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(CONFIG_NAME)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv("GH_TOKEN")
	}
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Every key gets a default so that AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bitbucket.url", "")
	v.SetDefault("bitbucket.token", "")
	v.SetDefault("github.url", "")
	v.SetDefault("github.token", "")
	v.SetDefault("jira.url", "")
	v.SetDefault("jira.token", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.projects", []string{})
	v.SetDefault("spinnaker.url", "")
	v.SetDefault("scm.provider", SCM_PROVIDER_BITBUCKET)
	v.SetDefault("http.timeout", DEFAULT_HTTP_TIMEOUT)
	v.SetDefault("changelog.concurrency", DEFAULT_CONCURRENCY)
	v.SetDefault("logging.level", DEFAULT_LOG_LEVEL)
	v.SetDefault("logging.format", LOG_FORMAT_TEXT)
	v.SetDefault("output.format", OUTPUT_FORMAT_JSON)
	v.SetDefault("output.path", "")
	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.output_dir", DEFAULT_TRACE_DIR)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("policy.config", "")
	v.SetDefault("policy.dir", ".")
	v.SetDefault("policy.overrides", []string{})
	v.SetDefault("policy.report", "")
}

// Validate checks Config invariants and returns the first error found
func (c *Config) Validate() error {
	switch c.SCM.Provider {
	case SCM_PROVIDER_BITBUCKET, SCM_PROVIDER_GITHUB:
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidSCMProvider, c.SCM.Provider)
	}

	switch c.Output.Format {
	case OUTPUT_FORMAT_JSON, OUTPUT_FORMAT_YAML:
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidOutputFormat, c.Output.Format)
	}

	switch c.Logging.Format {
	case LOG_FORMAT_TEXT, LOG_FORMAT_JSON:
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.HTTP.Timeout < 0 {
		return ErrInvalidHTTPTimeout
	}
	return nil
}
