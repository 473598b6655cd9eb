// Package policy gates a changelog on OPA policies. Every policy is a rego module in
// package changelog whose deny set lists the violations found in the changelog.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/open-policy-agent/opa/rego"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "policy")

const (
	POLICY_STATUS_PASS  = "PASS"
	POLICY_STATUS_FAIL  = "FAIL"
	POLICY_STATUS_ERROR = "ERROR"

	POLICY_LEVEL_DISABLED  = "DISABLED"
	POLICY_LEVEL_RECOMMEND = "RECOMMEND"
	POLICY_LEVEL_WARNING   = "WARNING"
	POLICY_LEVEL_BLOCK     = "BLOCK"

	DENY_QUERY = "data.changelog.deny"
)

// PolicyEvaluator defines the interface for policy evaluation operations
type PolicyEvaluator interface {
	// LoadAndValidate loads and validates the compliance configuration
	LoadAndValidate(configPath, policiesPath string) (*config.ComplianceConfig, error)
	// Evaluate evaluates all policies against the changelog
	Evaluate(ctx context.Context, changelog *models.Changelog, cfg *config.ComplianceConfig, policiesPath string) (*config.EvaluationResult, error)
	// Enforce decides whether the failures left after overrides block the deployment
	Enforce(result *config.EvaluationResult, overrides map[string]bool) *config.EnforcementResult
	// ApplyOverrides marks overridden policies in the result
	ApplyOverrides(result *config.EvaluationResult, overrides map[string]bool)
}

type Evaluator struct {
	loader config.ComplianceLoader
	now    func() time.Time
}

// Ensure Evaluator implements PolicyEvaluator
var _ PolicyEvaluator = (*Evaluator)(nil)

func NewEvaluator() *Evaluator {
	return &Evaluator{
		loader: config.NewComplianceLoader(),
		now:    time.Now,
	}
}

// LoadAndValidate loads the compliance configuration and checks every policy and its test file exist
func (e *Evaluator) LoadAndValidate(configPath, policiesPath string) (*config.ComplianceConfig, error) {
	return e.loader.Load(configPath, policiesPath)
}

// Evaluate runs every policy against the changelog in policy id order. A policy that
// cannot be read or compiled is reported as ERROR; it does not stop the others.
func (e *Evaluator) Evaluate(ctx context.Context, changelog *models.Changelog, cfg *config.ComplianceConfig, policiesPath string) (*config.EvaluationResult, error) {
	input, err := newInput(changelog)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy input: %w", err)
	}

	result := &config.EvaluationResult{
		TotalPolicies: len(cfg.Policies),
		PolicyResults: make([]config.PolicyResult, 0, len(cfg.Policies)),
	}
	for _, id := range cfg.PolicyIDs() {
		pr := e.evaluatePolicy(ctx, id, cfg.Policies[id], cfg.PolicyPath(id, policiesPath), input)
		logger.WithField("policy", id).WithField("status", pr.Status).WithField("level", pr.Level).
			WithField("violations", len(pr.Violations)).Debug("Evaluated policy")

		switch pr.Status {
		case POLICY_STATUS_PASS:
			result.PassedPolicies++
		case POLICY_STATUS_FAIL:
			result.FailedPolicies++
		case POLICY_STATUS_ERROR:
			result.ErroredPolicies++
		}
		result.PolicyResults = append(result.PolicyResults, pr)
	}
	return result, nil
}

// newInput is the document policies see as input: the serialized changelog plus a
// stats object so rules can gate on sizes without counting themselves.
func newInput(changelog *models.Changelog) (map[string]interface{}, error) {
	data, err := json.Marshal(changelog)
	if err != nil {
		return nil, err
	}
	var input map[string]interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}

	open := 0
	for _, pr := range changelog.PullRequests {
		if pr.Open {
			open++
		}
	}
	input["stats"] = map[string]interface{}{
		"commits":          len(changelog.Commits),
		"pullRequests":     len(changelog.PullRequests),
		"openPullRequests": open,
		"issues":           len(changelog.Issues),
	}
	return input, nil
}

func (e *Evaluator) evaluatePolicy(ctx context.Context, id string, policy config.PolicyConfig, policyPath string, input map[string]interface{}) config.PolicyResult {
	result := config.PolicyResult{
		PolicyID:    id,
		PolicyName:  policy.Name,
		Description: policy.Description,
		Status:      POLICY_STATUS_PASS,
		Level:       e.determineEnforcementLevel(policy.Enforcement),
		Violations:  []config.Violation{},
	}
	if result.Level == POLICY_LEVEL_DISABLED {
		return result
	}

	violations, err := queryDeny(ctx, policyPath, input)
	if err != nil {
		result.Status = POLICY_STATUS_ERROR
		result.Error = err.Error()
		return result
	}
	if len(violations) > 0 {
		result.Status = POLICY_STATUS_FAIL
		result.Violations = violations
	}
	return result
}

// queryDeny evaluates DENY_QUERY of the module at policyPath. A deny entry is either a
// message string or an object {"msg": ..., "subject": ...} naming the offending commit id,
// pull request id or issue key. Violations come back sorted by subject then message.
func queryDeny(ctx context.Context, policyPath string, input map[string]interface{}) ([]config.Violation, error) {
	module, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	query, err := rego.New(
		rego.Query(DENY_QUERY),
		rego.Module(filepath.Base(policyPath), string(module)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare OPA query: %w", err)
	}

	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	entries, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be a set, got %T", DENY_QUERY, rs[0].Expressions[0].Value)
	}

	violations := make([]config.Violation, 0, len(entries))
	for _, entry := range entries {
		switch d := entry.(type) {
		case string:
			violations = append(violations, config.Violation{Message: d})
		case map[string]interface{}:
			v := config.Violation{}
			v.Message, _ = d["msg"].(string)
			if s, ok := d["subject"]; ok && s != nil {
				v.Subject = fmt.Sprint(s)
			}
			violations = append(violations, v)
		default:
			violations = append(violations, config.Violation{Message: fmt.Sprint(d)})
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Subject != violations[j].Subject {
			return violations[i].Subject < violations[j].Subject
		}
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// Escalation thresholds, strongest first. The first one already reached wins.
func (e *Evaluator) determineEnforcementLevel(enforcement config.EnforcementConfig) string {
	now := e.now()
	if enforcement.InEffectAfter != nil && now.Before(*enforcement.InEffectAfter) {
		return POLICY_LEVEL_DISABLED
	}

	thresholds := []struct {
		after *time.Time
		level string
	}{
		{enforcement.IsBlockingAfter, POLICY_LEVEL_BLOCK},
		{enforcement.IsWarningAfter, POLICY_LEVEL_WARNING},
		{enforcement.InEffectAfter, POLICY_LEVEL_RECOMMEND},
	}
	for _, t := range thresholds {
		if t.after != nil && !now.Before(*t.after) {
			return t.level
		}
	}
	return POLICY_LEVEL_DISABLED
}

// Enforce counts the failures not covered by overrides. Only BLOCK failures block.
func (e *Evaluator) Enforce(result *config.EvaluationResult, overrides map[string]bool) *config.EnforcementResult {
	failures := map[string]int{}
	for _, pr := range result.PolicyResults {
		if pr.Status == POLICY_STATUS_FAIL && !overrides[pr.PolicyID] {
			failures[pr.Level]++
		}
	}

	enforcement := &config.EnforcementResult{
		ShouldBlock: failures[POLICY_LEVEL_BLOCK] > 0,
		ShouldWarn:  failures[POLICY_LEVEL_WARNING] > 0,
	}
	switch {
	case enforcement.ShouldBlock:
		enforcement.Summary = fmt.Sprintf("%d blocking policy failure(s)", failures[POLICY_LEVEL_BLOCK])
	case enforcement.ShouldWarn:
		enforcement.Summary = fmt.Sprintf("%d warning policy failure(s)", failures[POLICY_LEVEL_WARNING])
	default:
		enforcement.Summary = "All checks passed"
	}
	return enforcement
}

func (e *Evaluator) ApplyOverrides(result *config.EvaluationResult, overrides map[string]bool) {
	for i := range result.PolicyResults {
		result.PolicyResults[i].Overridden = overrides[result.PolicyResults[i].PolicyID]
	}
}

// OverrideSet turns a list of policy ids into the set Enforce expects
func OverrideSet(ids []string) map[string]bool {
	overrides := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			overrides[id] = true
		}
	}
	return overrides
}
