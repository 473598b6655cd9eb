package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	POLICY_TYPE_OPA = "opa"
)

var (
	ErrNoPolicies          = errors.New("no policies defined in compliance config")
	ErrPolicyFileNotFound  = errors.New("policy file not found")
	ErrPolicyTestNotFound  = errors.New("policy test file not found")
	ErrUnsupportedPolicyFS = errors.New("unsupported policy file extension (must be .rego or .opa)")
)

// ComplianceLoader reads the compliance config that drives the changelog policy gate
type ComplianceLoader interface {
	// Load parses the compliance config at path and checks it against the policy files under policiesDir
	Load(path, policiesDir string) (*ComplianceConfig, error)
}

type ComplianceFileLoader struct{}

// Ensure ComplianceFileLoader implements ComplianceLoader
var _ ComplianceLoader = (*ComplianceFileLoader)(nil)

func NewComplianceLoader() *ComplianceFileLoader {
	return &ComplianceFileLoader{}
}

func (l *ComplianceFileLoader) Load(path, policiesDir string) (*ComplianceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compliance config: %w", err)
	}

	var compliance ComplianceConfig
	if err := yaml.Unmarshal(data, &compliance); err != nil {
		return nil, fmt.Errorf("failed to parse compliance config %s: %w", path, err)
	}

	if err := compliance.Validate(); err != nil {
		return nil, err
	}

	for _, id := range compliance.PolicyIDs() {
		if err := checkPolicyFiles(id, compliance.PolicyPath(id, policiesDir)); err != nil {
			return nil, err
		}
	}
	return &compliance, nil
}

// PolicyIDs returns the policy ids in evaluation order
func (c *ComplianceConfig) PolicyIDs() []string {
	ids := make([]string, 0, len(c.Policies))
	for id := range c.Policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PolicyPath resolves the rego file of policy id against policiesDir. Absolute file paths are kept.
func (c *ComplianceConfig) PolicyPath(id, policiesDir string) string {
	file := c.Policies[id].FilePath
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(policiesDir, file)
}

// Validate checks the compliance config without touching the filesystem
func (c *ComplianceConfig) Validate() error {
	if len(c.Policies) == 0 {
		return ErrNoPolicies
	}

	for _, id := range c.PolicyIDs() {
		policy := c.Policies[id]
		switch {
		case policy.Name == "":
			return fmt.Errorf("policy %s: name is required", id)
		case policy.Type == "":
			return fmt.Errorf("policy %s: type is required", id)
		case policy.Type != POLICY_TYPE_OPA:
			return fmt.Errorf("policy %s: unsupported type %s (only 'opa' is supported)", id, policy.Type)
		case policy.FilePath == "":
			return fmt.Errorf("policy %s: filePath is required", id)
		}

		if err := policy.Enforcement.validate(); err != nil {
			return fmt.Errorf("policy %s: %w", id, err)
		}
	}
	return nil
}

// Enforcement dates, when set, must escalate in order
func (e EnforcementConfig) validate() error {
	if e.InEffectAfter != nil && e.IsWarningAfter != nil && e.IsWarningAfter.Before(*e.InEffectAfter) {
		return errors.New("isWarningAfter cannot be before inEffectAfter")
	}
	if e.IsWarningAfter != nil && e.IsBlockingAfter != nil && e.IsBlockingAfter.Before(*e.IsWarningAfter) {
		return errors.New("isBlockingAfter cannot be before isWarningAfter")
	}
	if e.InEffectAfter != nil && e.IsBlockingAfter != nil && e.IsBlockingAfter.Before(*e.InEffectAfter) {
		return errors.New("isBlockingAfter cannot be before inEffectAfter")
	}
	return nil
}

// Every policy ships with a test file next to it: foo.rego has foo_test.rego
func checkPolicyFiles(id, policyPath string) error {
	if _, err := os.Stat(policyPath); err != nil {
		return fmt.Errorf("policy %s: %w: %s", id, ErrPolicyFileNotFound, policyPath)
	}

	ext := filepath.Ext(policyPath)
	if ext != ".rego" && ext != ".opa" {
		return fmt.Errorf("policy %s: %w", id, ErrUnsupportedPolicyFS)
	}

	testPath := strings.TrimSuffix(policyPath, ext) + "_test" + ext
	if _, err := os.Stat(testPath); err != nil {
		return fmt.Errorf("policy %s: %w: %s", id, ErrPolicyTestNotFound, testPath)
	}
	return nil
}
