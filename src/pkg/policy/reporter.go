package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"gopkg.in/yaml.v3"
)

// Reporter turns evaluation results into the policy report attached to a changelog run
type Reporter struct{}

func NewReporter() *Reporter {
	return &Reporter{}
}

// GenerateReport summarizes result. Overridden failures are listed but not counted
// against their level.
func (r *Reporter) GenerateReport(result *config.EvaluationResult) *config.PolicyReportData {
	report := &config.PolicyReportData{
		TotalPolicies:   result.TotalPolicies,
		PassedPolicies:  result.PassedPolicies,
		FailedPolicies:  result.FailedPolicies,
		ErroredPolicies: result.ErroredPolicies,
		Details:         make([]config.PolicyDetail, 0, len(result.PolicyResults)),
	}

	counters := map[string]*int{
		POLICY_LEVEL_BLOCK:     &report.BlockingFailures,
		POLICY_LEVEL_WARNING:   &report.WarningFailures,
		POLICY_LEVEL_RECOMMEND: &report.RecommendFailures,
	}
	for _, pr := range result.PolicyResults {
		if counter, ok := counters[pr.Level]; ok && pr.Status == POLICY_STATUS_FAIL && !pr.Overridden {
			*counter++
		}
		report.Details = append(report.Details, toDetail(pr))
	}
	return report
}

func toDetail(pr config.PolicyResult) config.PolicyDetail {
	violations := make([]string, 0, len(pr.Violations))
	for _, v := range pr.Violations {
		violations = append(violations, formatViolation(v))
	}
	return config.PolicyDetail{
		Name:        pr.PolicyName,
		Description: pr.Description,
		Status:      pr.Status,
		Level:       pr.Level,
		Overridden:  pr.Overridden,
		Error:       pr.Error,
		Violations:  violations,
	}
}

// "<subject>: <message>", or the bare message when the policy named no subject
func formatViolation(v config.Violation) string {
	if v.Subject == "" {
		return v.Message
	}
	return v.Subject + ": " + v.Message
}

// WriteReport saves report to path as YAML when the extension is .yaml or .yml, JSON otherwise
func (r *Reporter) WriteReport(report *config.PolicyReportData, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(report)
	default:
		data, err = json.MarshalIndent(report, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal policy report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create policy report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write policy report: %w", err)
	}
	return nil
}
