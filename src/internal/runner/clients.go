package runner

import (
	"fmt"

	"github.com/gh-nvat/deployment-changelog/src/pkg/bitbucket"
	"github.com/gh-nvat/deployment-changelog/src/pkg/changelog"
	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/gh-nvat/deployment-changelog/src/pkg/github"
	"github.com/gh-nvat/deployment-changelog/src/pkg/jira"
	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	"github.com/gh-nvat/deployment-changelog/src/pkg/rest"
	"github.com/gh-nvat/deployment-changelog/src/pkg/spinnaker"
)

// Clients holds the upstream collaborators of one run
type Clients struct {
	Commits changelog.CommitProvider
	Issues  changelog.IssueProvider
	// States is nil unless spinnaker.url is configured
	States changelog.DeploymentStateProvider
}

// NewClients builds the upstream clients described by cfg
func NewClients(cfg *config.Config, m *metrics.Recorder) (*Clients, error) {
	jiraREST, err := rest.NewClient(rest.Config{
		Service:  "jira",
		BaseURL:  cfg.Jira.URL,
		Timeout:  cfg.HTTP.Timeout,
		Token:    cfg.Jira.Token,
		Username: cfg.Jira.Username,
		Metrics:  m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Jira client: %w", err)
	}
	jiraClient := jira.NewClient(jiraREST)
	clients := &Clients{Issues: jiraClient}

	switch cfg.SCM.Provider {
	case config.SCM_PROVIDER_GITHUB:
		gh, err := github.NewClient(github.Config{
			BaseURL:       cfg.GitHub.URL,
			Token:         cfg.GitHub.Token,
			Timeout:       cfg.HTTP.Timeout,
			IssueURL:      jiraClient.BrowseURL,
			IssueProjects: cfg.Jira.Projects,
			Metrics:       m,
		})
		if err != nil {
			return nil, fmt.Errorf("GitHub authentication failed: %w", err)
		}
		clients.Commits = gh
	default:
		bbREST, err := rest.NewClient(rest.Config{
			Service: "bitbucket",
			BaseURL: cfg.Bitbucket.URL,
			Timeout: cfg.HTTP.Timeout,
			Token:   cfg.Bitbucket.Token,
			Metrics: m,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Bitbucket client: %w", err)
		}
		clients.Commits = bitbucket.NewClient(bbREST)
	}

	if cfg.Spinnaker.URL != "" {
		spinREST, err := rest.NewClient(rest.Config{
			Service: "spinnaker",
			BaseURL: cfg.Spinnaker.URL,
			Timeout: cfg.HTTP.Timeout,
			Metrics: m,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Spinnaker client: %w", err)
		}
		clients.States = spinnaker.NewClient(spinREST)
	}

	return clients, nil
}
