package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type onePage[T any] struct {
	items []T
	done  bool
}

func (c *onePage[T]) Next(ctx context.Context) ([]T, error) {
	if c.done {
		return nil, pagination.ErrExhaustedCursor
	}
	c.done = true
	return c.items, nil
}

func (c *onePage[T]) IsExhausted() bool {
	return c.done
}

type stubCommits struct {
	gotFrom, gotTo string
}

func (s *stubCommits) CompareCommits(project, repo, from, to string) pagination.Cursor[models.Commit] {
	s.gotFrom, s.gotTo = from, to
	return &onePage[models.Commit]{items: []models.Commit{{ID: "c1", DisplayID: "c1"}}}
}

func (s *stubCommits) PullRequestsForCommit(project, repo, commitID string) pagination.Cursor[models.PullRequest] {
	return &onePage[models.PullRequest]{items: []models.PullRequest{{ID: 1, Title: "Add feature", Open: true}}}
}

func (s *stubCommits) IssueReferences(ctx context.Context, project, repo string, pullRequestID int64) ([]models.IssueReference, error) {
	return []models.IssueReference{{Key: "ABC-1"}}, nil
}

type stubIssues struct{}

func (stubIssues) GetIssue(ctx context.Context, key string) (*models.Issue, error) {
	return &models.Issue{Key: key, Summary: "Feature", Created: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
}

type stubStates struct{}

func (stubStates) GetEnvironmentStates(ctx context.Context, appName string, environments []string) (*models.EnvironmentStates, error) {
	str := func(s string) *string { return &s }
	return &models.EnvironmentStates{Application: &models.Application{
		Name: appName,
		Environments: []models.Environment{{
			Name: environments[0],
			State: models.EnvironmentState{Artifacts: []models.Artifact{{Versions: []models.ArtifactVersion{
				{Version: "v2", BuildNumber: str("2"), Status: models.ArtifactStatusPending,
					GitMetadata: &models.GitMetadata{Project: str("P"), RepoName: str("R"), Commit: str("new")}},
				{Version: "v1", BuildNumber: str("1"), Status: models.ArtifactStatusCurrent,
					GitMetadata: &models.GitMetadata{Project: str("P"), RepoName: str("R"), Commit: str("old")}},
			}}}},
		}},
	}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Changelog: config.ChangelogConfig{Concurrency: 2},
		Output:    config.OutputConfig{Format: config.OUTPUT_FORMAT_JSON},
		Policy:    config.PolicyConfigRef{Dir: "."},
	}
}

func rangeOptions() *Options {
	return &Options{RunMode: RUN_MODE_RANGE, Project: "P", Repository: "R", StartCommit: "new", EndCommit: "old"}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		opts     Options
		wantErr  string
	}{
		{name: "range ok", opts: *rangeOptions()},
		{name: "bitbucket range needs project", provider: config.SCM_PROVIDER_BITBUCKET,
			opts: Options{RunMode: RUN_MODE_RANGE, Repository: "R", StartCommit: "a", EndCommit: "b"}, wantErr: "--project"},
		{name: "github range takes owner from repo", provider: config.SCM_PROVIDER_GITHUB,
			opts: Options{RunMode: RUN_MODE_RANGE, Repository: "acme/api", StartCommit: "a", EndCommit: "b"}},
		{name: "range missing end", opts: Options{RunMode: RUN_MODE_RANGE, Project: "P", Repository: "R", StartCommit: "a"}, wantErr: "--end-commit"},
		{name: "spinnaker ok", opts: Options{RunMode: RUN_MODE_SPINNAKER, Application: "app", Environment: "prod"}},
		{name: "spinnaker missing env", opts: Options{RunMode: RUN_MODE_SPINNAKER, Application: "app"}, wantErr: "--env"},
		{name: "unknown mode", opts: Options{RunMode: "local"}, wantErr: "invalid run mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate(tt.provider)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRunnerRange_InitializeRequiresProject(t *testing.T) {
	opts := rangeOptions()
	opts.Project = ""
	cfg := testConfig()
	cfg.SCM.Provider = config.SCM_PROVIDER_BITBUCKET

	r, err := New(context.Background(), opts, cfg, &Clients{Commits: &stubCommits{}, Issues: stubIssues{}}, nil)
	require.NoError(t, err)

	err = r.Initialize()
	assert.ErrorIs(t, err, ErrMissingOption)
	assert.ErrorContains(t, err, "--project")
}

func TestRunnerRange_ProcessToStdout(t *testing.T) {
	commits := &stubCommits{}
	r, err := New(context.Background(), rangeOptions(), testConfig(), &Clients{Commits: commits, Issues: stubIssues{}}, metrics.NewRecorder())
	require.NoError(t, err)
	var out bytes.Buffer
	r.(*RunnerRange).Stdout = &out

	require.NoError(t, r.Initialize())
	require.NoError(t, r.Process())

	assert.Equal(t, "new", commits.gotFrom)
	assert.Equal(t, "old", commits.gotTo)

	var got map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Len(t, got["commits"], 1)
	assert.Len(t, got["pullRequests"], 1)
	require.Len(t, got["issues"], 1)
	assert.Equal(t, "ABC-1", got["issues"][0]["key"])
}

func TestRunnerSpinnaker_ProcessToYAMLFile(t *testing.T) {
	cfg := testConfig()
	cfg.Output.Format = config.OUTPUT_FORMAT_YAML
	cfg.Output.Path = filepath.Join(t.TempDir(), "out", "changelog.yaml")
	commits := &stubCommits{}
	opts := &Options{RunMode: RUN_MODE_SPINNAKER, Application: "app", Environment: "prod"}

	r, err := New(context.Background(), opts, cfg, &Clients{Commits: commits, Issues: stubIssues{}, States: stubStates{}}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Initialize())
	require.NoError(t, r.Process())

	assert.Equal(t, "new", commits.gotFrom)
	assert.Equal(t, "old", commits.gotTo)

	data, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	var got models.Changelog
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, "c1", got.Commits[0].ID)
	assert.Equal(t, "ABC-1", got.Issues[0].Key)
}

func TestNewRunnerSpinnaker_RequiresStates(t *testing.T) {
	opts := &Options{RunMode: RUN_MODE_SPINNAKER, Application: "app", Environment: "prod"}
	_, err := New(context.Background(), opts, testConfig(), &Clients{Commits: &stubCommits{}, Issues: stubIssues{}}, nil)
	assert.ErrorContains(t, err, "spinnaker.url")
}

func TestRunnerRange_PolicyBlocks(t *testing.T) {
	dir := t.TempDir()
	policy := `package changelog

import rego.v1

deny contains msg if {
	some pr in input.pullRequests
	pr.open
	msg := sprintf("pull request %d is still open", [pr.id])
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "open-pr.rego"), []byte(policy), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "open-pr_test.rego"), []byte("package changelog\n"), 0644))
	complianceConfig := filepath.Join(dir, "compliance.yaml")
	require.NoError(t, os.WriteFile(complianceConfig, []byte(`
policies:
  open-pr:
    name: No open pull requests
    type: opa
    filePath: open-pr.rego
    enforcement:
      inEffectAfter: 2020-01-01T00:00:00Z
      isBlockingAfter: 2020-01-02T00:00:00Z
`), 0644))

	cfg := testConfig()
	reportPath := filepath.Join(dir, "policy-report.json")
	cfg.Policy = config.PolicyConfigRef{Config: complianceConfig, Dir: dir, Report: reportPath}

	rr, err := NewRunnerRange(context.Background(), rangeOptions(), cfg, &Clients{Commits: &stubCommits{}, Issues: stubIssues{}}, nil)
	require.NoError(t, err)
	var out bytes.Buffer
	rr.Stdout = &out

	require.NoError(t, rr.Initialize())
	err = rr.Process()

	assert.ErrorIs(t, err, ErrPolicyBlocked)
	assert.NotEmpty(t, out.String(), "changelog is still written when blocked")
	require.NotNil(t, rr.PolicyReport)
	assert.Equal(t, 1, rr.PolicyReport.BlockingFailures)
	assert.Equal(t, []string{"pull request 1 is still open"}, rr.PolicyReport.Details[0].Violations)
	assert.FileExists(t, reportPath)

	cfg.Policy.Overrides = []string{"open-pr"}
	out.Reset()
	assert.NoError(t, rr.Process())
}

func TestMarshal_UnknownFormat(t *testing.T) {
	_, err := Marshal(models.NewChangelog(nil, nil, nil), "toml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestMarshal_EmptyChangelogKeepsLists(t *testing.T) {
	data, err := Marshal(models.NewChangelog(nil, nil, nil), config.OUTPUT_FORMAT_JSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"commits":[],"pullRequests":[],"issues":[]}`, string(data))
}
