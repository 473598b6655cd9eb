package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requireIssuePolicy = `package changelog

import rego.v1

deny contains msg if {
	count(input.pullRequests) > 0
	count(input.issues) == 0
	msg := "pull requests without any linked issue"
}
`

const openPullRequestPolicy = `package changelog

import rego.v1

deny contains {"msg": "pull request is still open", "subject": pr.id} if {
	some pr in input.pullRequests
	pr.open
}
`

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func fixedEvaluator(now time.Time) *Evaluator {
	e := NewEvaluator()
	e.now = func() time.Time { return now }
	return e
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluator_Evaluate(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "require-issue.rego", requireIssuePolicy)
	writePolicy(t, dir, "open-pr.rego", openPullRequestPolicy)

	cfg := &config.ComplianceConfig{Policies: map[string]config.PolicyConfig{
		"require-issue": {
			Name: "Require issue", Type: "opa", FilePath: "require-issue.rego",
			Enforcement: config.EnforcementConfig{
				InEffectAfter:   timePtr(now.Add(-48 * time.Hour)),
				IsBlockingAfter: timePtr(now.Add(-24 * time.Hour)),
			},
		},
		"open-pr": {
			Name: "No open pull requests", Type: "opa", FilePath: "open-pr.rego",
			Enforcement: config.EnforcementConfig{
				InEffectAfter:  timePtr(now.Add(-48 * time.Hour)),
				IsWarningAfter: timePtr(now.Add(-24 * time.Hour)),
			},
		},
		"future": {
			Name: "Not yet", Type: "opa", FilePath: "require-issue.rego",
			Enforcement: config.EnforcementConfig{InEffectAfter: timePtr(now.Add(24 * time.Hour))},
		},
	}}
	changelog := models.NewChangelog(nil, []models.PullRequest{
		{ID: 7, Title: "wip", Open: true},
		{ID: 8, Title: "done"},
	}, nil)

	e := fixedEvaluator(now)
	result, err := e.Evaluate(context.Background(), changelog, cfg, dir)

	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalPolicies)
	assert.Equal(t, 2, result.FailedPolicies)
	assert.Equal(t, 1, result.PassedPolicies)

	require.Len(t, result.PolicyResults, 3)
	assert.Equal(t, "future", result.PolicyResults[0].PolicyID)
	assert.Equal(t, POLICY_LEVEL_DISABLED, result.PolicyResults[0].Level)

	openPR := result.PolicyResults[1]
	assert.Equal(t, "open-pr", openPR.PolicyID)
	assert.Equal(t, POLICY_LEVEL_WARNING, openPR.Level)
	require.Len(t, openPR.Violations, 1)
	assert.Equal(t, "7", openPR.Violations[0].Subject)

	requireIssue := result.PolicyResults[2]
	assert.Equal(t, POLICY_STATUS_FAIL, requireIssue.Status)
	assert.Equal(t, POLICY_LEVEL_BLOCK, requireIssue.Level)

	enforcement := e.Enforce(result, nil)
	assert.True(t, enforcement.ShouldBlock)
	assert.True(t, enforcement.ShouldWarn)
	assert.Equal(t, "1 blocking policy failure(s)", enforcement.Summary)

	overrides := OverrideSet([]string{"require-issue", " "})
	e.ApplyOverrides(result, overrides)
	enforcement = e.Enforce(result, overrides)
	assert.False(t, enforcement.ShouldBlock)
	assert.Equal(t, "1 warning policy failure(s)", enforcement.Summary)

	report := NewReporter().GenerateReport(result)
	assert.Equal(t, 0, report.BlockingFailures)
	assert.Equal(t, 1, report.WarningFailures)
	assert.True(t, report.Details[2].Overridden)
	assert.Equal(t, []string{"7: pull request is still open"}, report.Details[1].Violations)
}

func TestEvaluator_Evaluate_BrokenPolicy(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "broken.rego", "package changelog\n\ndeny[msg {")

	cfg := &config.ComplianceConfig{Policies: map[string]config.PolicyConfig{
		"broken": {
			Name: "Broken", Type: "opa", FilePath: "broken.rego",
			Enforcement: config.EnforcementConfig{InEffectAfter: timePtr(now.Add(-time.Hour))},
		},
	}}

	result, err := fixedEvaluator(now).Evaluate(context.Background(), models.NewChangelog(nil, nil, nil), cfg, dir)

	require.NoError(t, err)
	assert.Equal(t, 1, result.ErroredPolicies)
	assert.Equal(t, POLICY_STATUS_ERROR, result.PolicyResults[0].Status)
	assert.Contains(t, result.PolicyResults[0].Error, "failed to prepare OPA query")
}

func TestEvaluator_DetermineEnforcementLevel(t *testing.T) {
	tests := []struct {
		name        string
		enforcement config.EnforcementConfig
		want        string
	}{
		{name: "nothing configured", want: POLICY_LEVEL_DISABLED},
		{name: "not yet in effect", enforcement: config.EnforcementConfig{InEffectAfter: timePtr(now.Add(time.Hour))}, want: POLICY_LEVEL_DISABLED},
		{name: "in effect", enforcement: config.EnforcementConfig{InEffectAfter: timePtr(now.Add(-time.Hour))}, want: POLICY_LEVEL_RECOMMEND},
		{
			name: "warning",
			enforcement: config.EnforcementConfig{
				InEffectAfter:   timePtr(now.Add(-2 * time.Hour)),
				IsWarningAfter:  timePtr(now.Add(-time.Hour)),
				IsBlockingAfter: timePtr(now.Add(time.Hour)),
			},
			want: POLICY_LEVEL_WARNING,
		},
		{name: "blocking exactly now", enforcement: config.EnforcementConfig{IsBlockingAfter: timePtr(now)}, want: POLICY_LEVEL_BLOCK},
	}

	e := fixedEvaluator(now)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.determineEnforcementLevel(tt.enforcement))
		})
	}
}

func TestEvaluator_LoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "require-issue.rego", requireIssuePolicy)
	configPath := filepath.Join(dir, "compliance.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
policies:
  require-issue:
    name: Require issue
    type: opa
    filePath: require-issue.rego
`), 0644))

	_, err := NewEvaluator().LoadAndValidate(configPath, dir)
	assert.ErrorContains(t, err, "test file not found")

	writePolicy(t, dir, "require-issue_test.rego", "package changelog\n")
	cfg, err := NewEvaluator().LoadAndValidate(configPath, dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Policies, 1)
}

func TestEvaluator_Evaluate_Stats(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "too-big.rego", `package changelog

import rego.v1

deny contains msg if {
	input.stats.commits > 2
	msg := sprintf("%d commits in one deployment", [input.stats.commits])
}

deny contains {"msg": "open pull requests", "subject": "stats"} if {
	input.stats.openPullRequests > 0
}
`)
	cfg := &config.ComplianceConfig{Policies: map[string]config.PolicyConfig{
		"too-big": {
			Name: "Small deployments", Type: "opa", FilePath: "too-big.rego",
			Enforcement: config.EnforcementConfig{InEffectAfter: timePtr(now.Add(-time.Hour))},
		},
	}}
	changelog := models.NewChangelog(
		[]models.Commit{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		[]models.PullRequest{{ID: 1, Open: true}},
		nil,
	)

	e := fixedEvaluator(now)
	result, err := e.Evaluate(context.Background(), changelog, cfg, dir)

	require.NoError(t, err)
	require.Len(t, result.PolicyResults, 1)
	got := result.PolicyResults[0]
	assert.Equal(t, POLICY_LEVEL_RECOMMEND, got.Level)
	assert.Equal(t, []config.Violation{
		{Message: "3 commits in one deployment"},
		{Message: "open pull requests", Subject: "stats"},
	}, got.Violations)

	enforcement := e.Enforce(result, nil)
	assert.False(t, enforcement.ShouldBlock)
	assert.False(t, enforcement.ShouldWarn)
	assert.Equal(t, "All checks passed", enforcement.Summary)
}

func TestEvaluator_ApplyOverridesResets(t *testing.T) {
	result := &config.EvaluationResult{PolicyResults: []config.PolicyResult{{PolicyID: "a"}, {PolicyID: "b"}}}
	e := NewEvaluator()

	e.ApplyOverrides(result, OverrideSet([]string{"a"}))
	assert.True(t, result.PolicyResults[0].Overridden)

	e.ApplyOverrides(result, OverrideSet([]string{"b"}))
	assert.False(t, result.PolicyResults[0].Overridden)
	assert.True(t, result.PolicyResults[1].Overridden)
}
