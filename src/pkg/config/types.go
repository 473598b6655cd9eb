package config

import "time"

// ComplianceConfig represents the complete compliance configuration
type ComplianceConfig struct {
	Policies map[string]PolicyConfig `yaml:"policies"`
}

// PolicyConfig represents a single policy configuration
type PolicyConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Type        string            `yaml:"type"` // "opa" only for now
	FilePath    string            `yaml:"filePath"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
}

// EnforcementConfig defines when and how a policy should be enforced
type EnforcementConfig struct {
	InEffectAfter   *time.Time `yaml:"inEffectAfter,omitempty"`
	IsWarningAfter  *time.Time `yaml:"isWarningAfter,omitempty"`
	IsBlockingAfter *time.Time `yaml:"isBlockingAfter,omitempty"`
}

// EvaluationResult represents the result of policy evaluation
type EvaluationResult struct {
	TotalPolicies   int
	PassedPolicies  int
	FailedPolicies  int
	ErroredPolicies int
	PolicyResults   []PolicyResult
}

// PolicyResult represents the result of a single policy evaluation
type PolicyResult struct {
	PolicyID    string
	PolicyName  string
	Description string
	Status      string // "PASS", "FAIL", "ERROR"
	Violations  []Violation
	Error       string
	Level       string // "RECOMMEND", "WARNING", "BLOCK", "DISABLED"
	Overridden  bool
}

// Violation represents a single policy violation.
// Subject names the offending changelog entry (commit id, pull request id or issue key) when the policy reports one.
type Violation struct {
	Message string
	Subject string
}

// EnforcementResult represents the enforcement decision
type EnforcementResult struct {
	ShouldBlock bool
	ShouldWarn  bool
	Summary     string
}

// PolicyReportData represents policy report data
type PolicyReportData struct {
	TotalPolicies     int            `json:"totalPolicies" yaml:"totalPolicies"`
	PassedPolicies    int            `json:"passedPolicies" yaml:"passedPolicies"`
	FailedPolicies    int            `json:"failedPolicies" yaml:"failedPolicies"`
	ErroredPolicies   int            `json:"erroredPolicies" yaml:"erroredPolicies"`
	BlockingFailures  int            `json:"blockingFailures" yaml:"blockingFailures"`
	WarningFailures   int            `json:"warningFailures" yaml:"warningFailures"`
	RecommendFailures int            `json:"recommendFailures" yaml:"recommendFailures"`
	Details           []PolicyDetail `json:"details" yaml:"details"`
}

// PolicyDetail represents a single policy detail for reporting
type PolicyDetail struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Status      string   `json:"status" yaml:"status"`
	Level       string   `json:"level" yaml:"level"`
	Overridden  bool     `json:"overridden" yaml:"overridden"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
	Violations  []string `json:"violations" yaml:"violations"`
}
