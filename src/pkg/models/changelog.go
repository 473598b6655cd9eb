package models

import (
	"encoding/json"
	"time"
)

// Author represents a source-control user attached to a commit
type Author struct {
	Name         string `json:"name" yaml:"name"`
	EmailAddress string `json:"emailAddress" yaml:"emailAddress"`
	DisplayName  string `json:"displayName" yaml:"displayName"`
}

// Commit represents a single commit in the deployed range
type Commit struct {
	ID        string `json:"id" yaml:"id"`
	DisplayID string `json:"displayId" yaml:"displayId"`
	Author    Author `json:"author" yaml:"author"`
	Committer Author `json:"committer" yaml:"committer"`
	Message   string `json:"message" yaml:"message"`
}

// PullRequestAuthor represents the author of a pull request
type PullRequestAuthor struct {
	User     Author `json:"user" yaml:"user"`
	Approved bool   `json:"approved" yaml:"approved"`
}

// PullRequest represents a pull request that merged at least one commit of the range.
// All fields are comparable so the struct itself can be used as a dedup key.
type PullRequest struct {
	ID          int64             `json:"id" yaml:"id"`
	Title       string            `json:"title" yaml:"title"`
	Description string            `json:"description" yaml:"description"`
	Open        bool              `json:"open" yaml:"open"`
	Author      PullRequestAuthor `json:"author" yaml:"author"`
	CreatedDate time.Time         `json:"createdDate" yaml:"createdDate"`
	UpdatedDate time.Time         `json:"updatedDate" yaml:"updatedDate"`
}

// IssueReference points from a pull request into the issue tracker
type IssueReference struct {
	Key string `json:"key" yaml:"key"`
	URL string `json:"url" yaml:"url"`
}

// IssueAuthor represents an issue tracker user
type IssueAuthor struct {
	Name        string `json:"name" yaml:"name"`
	Key         string `json:"key" yaml:"key"`
	DisplayName string `json:"displayName" yaml:"displayName"`
}

// Comment represents a comment on an issue
type Comment struct {
	Author  IssueAuthor `json:"author" yaml:"author"`
	Body    string      `json:"body" yaml:"body"`
	Created time.Time   `json:"created" yaml:"created"`
	Updated time.Time   `json:"updated" yaml:"updated"`
}

// Issue represents an issue tracker ticket
type Issue struct {
	Key         string    `json:"key" yaml:"key"`
	Summary     string    `json:"summary" yaml:"summary"`
	Description *string   `json:"description,omitempty" yaml:"description,omitempty"`
	Comments    []Comment `json:"comments" yaml:"comments"`
	Created     time.Time `json:"created" yaml:"created"`
	Updated     time.Time `json:"updated" yaml:"updated"`
}

// Changelog is the aggregate produced for one deployment
type Changelog struct {
	Commits      []Commit      `json:"commits" yaml:"commits"`
	PullRequests []PullRequest `json:"pullRequests" yaml:"pullRequests"`
	Issues       []Issue       `json:"issues" yaml:"issues"`
}

// NewChangelog builds a changelog, replacing nil collections with empty ones
// so that serialized output always carries three lists.
func NewChangelog(commits []Commit, pullRequests []PullRequest, issues []Issue) *Changelog {
	if commits == nil {
		commits = []Commit{}
	}
	if pullRequests == nil {
		pullRequests = []PullRequest{}
	}
	if issues == nil {
		issues = []Issue{}
	}
	return &Changelog{
		Commits:      commits,
		PullRequests: pullRequests,
		Issues:       issues,
	}
}

// String returns the changelog as indented JSON
func (c *Changelog) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
