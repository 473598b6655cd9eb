package github

import (
	"fmt"
	"regexp"
	"strings"
)

var issueKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-[0-9]+\b`)

// Prefixes of standards, algorithms and advisories that share the issue key shape.
// Only consulted when no Jira projects are configured.
var nonIssuePrefixes = map[string]struct{}{
	"AES": {}, "CVE": {}, "CWE": {}, "ECMA": {}, "GHSA": {}, "HTTP": {}, "IEC": {}, "IPV": {},
	"ISO": {}, "JSR": {}, "MD": {}, "PEP": {}, "RFC": {}, "RSA": {}, "SHA": {}, "SSL": {},
	"TLS": {}, "UCS": {}, "UTF": {}, "X": {},
}

// ParseOwnerRepo parses a repository string into owner and repository
// Example: "owner/repository" -> "owner", "repository"
// Example: "owner/repository/subpath" -> "owner", "repository"
func ParseOwnerRepo(repo string) (owner, repository string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format: %s", repo)
	}
	owner = parts[0]
	repository = parts[1]
	return owner, repository, nil
}

// resolveOwnerRepo maps (project, repo) onto a GitHub owner and name.
// An empty project means repo is given as "owner/name".
func resolveOwnerRepo(project, repo string) (string, string, error) {
	if project != "" {
		return project, repo, nil
	}
	owner, name, err := ParseOwnerRepo(repo)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse repository: %w", err)
	}
	return owner, name, nil
}

func ShortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// IssueKeyMatcher finds Jira keys in free text. With projects set, only keys of those
// projects match; otherwise every key-shaped token except well-known standards does.
type IssueKeyMatcher struct {
	projects map[string]struct{}
}

func NewIssueKeyMatcher(projects []string) *IssueKeyMatcher {
	m := &IssueKeyMatcher{}
	for _, p := range projects {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			if m.projects == nil {
				m.projects = make(map[string]struct{})
			}
			m.projects[p] = struct{}{}
		}
	}
	return m
}

// Allows reports whether key belongs to an accepted project
func (m *IssueKeyMatcher) Allows(key string) bool {
	project, _, ok := strings.Cut(key, "-")
	if !ok {
		return false
	}
	if m.projects != nil {
		_, allowed := m.projects[project]
		return allowed
	}
	_, excluded := nonIssuePrefixes[project]
	return !excluded
}

// Extract returns the distinct accepted keys found in texts, in order of first appearance
func (m *IssueKeyMatcher) Extract(texts ...string) []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0)
	for _, text := range texts {
		for _, key := range issueKeyPattern.FindAllString(text, -1) {
			if _, ok := seen[key]; ok || !m.Allows(key) {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

// ExtractIssueKeys is Extract without a project allow-list
func ExtractIssueKeys(texts ...string) []string {
	return NewIssueKeyMatcher(nil).Extract(texts...)
}
