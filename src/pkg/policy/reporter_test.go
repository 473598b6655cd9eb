package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleResult() *config.EvaluationResult {
	return &config.EvaluationResult{
		TotalPolicies:  3,
		FailedPolicies: 2,
		PassedPolicies: 1,
		PolicyResults: []config.PolicyResult{
			{PolicyID: "a", PolicyName: "A", Status: POLICY_STATUS_FAIL, Level: POLICY_LEVEL_BLOCK, Overridden: true,
				Violations: []config.Violation{{Message: "no issue", Subject: "42"}}},
			{PolicyID: "b", PolicyName: "B", Status: POLICY_STATUS_FAIL, Level: POLICY_LEVEL_RECOMMEND,
				Violations: []config.Violation{{Message: "too many commits"}}},
			{PolicyID: "c", PolicyName: "C", Status: POLICY_STATUS_PASS, Level: POLICY_LEVEL_WARNING},
		},
	}
}

func TestReporter_GenerateReport(t *testing.T) {
	report := NewReporter().GenerateReport(sampleResult())

	assert.Equal(t, 0, report.BlockingFailures)
	assert.Equal(t, 0, report.WarningFailures)
	assert.Equal(t, 1, report.RecommendFailures)
	require.Len(t, report.Details, 3)
	assert.Equal(t, []string{"42: no issue"}, report.Details[0].Violations)
	assert.Equal(t, []string{"too many commits"}, report.Details[1].Violations)
	assert.Equal(t, []string{}, report.Details[2].Violations)
}

func TestReporter_WriteReport(t *testing.T) {
	reporter := NewReporter()
	report := reporter.GenerateReport(sampleResult())
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "reports", "policy.json")
	require.NoError(t, reporter.WriteReport(report, jsonPath))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var fromJSON config.PolicyReportData
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	assert.Equal(t, *report, fromJSON)

	yamlPath := filepath.Join(dir, "policy.yml")
	require.NoError(t, reporter.WriteReport(report, yamlPath))
	data, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var fromYAML config.PolicyReportData
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	assert.Equal(t, 1, fromYAML.RecommendFailures)
	assert.Equal(t, "A", fromYAML.Details[0].Name)
}
