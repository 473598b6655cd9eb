// Package jira fetches issue details from the Jira REST API.
package jira

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gh-nvat/deployment-changelog/src/pkg/changelog"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/rest"
)

const GET_ISSUE_ENDPOINT = "rest/api/latest/issue/{issueKey}"

// Jira renders offsets without a colon, which time.RFC3339 rejects
var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

// Time decodes Jira timestamps
type Time struct {
	time.Time
}

// UnmarshalJSON accepts Jira's timestamp layouts and null
func (t *Time) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized jira timestamp %q", raw)
}

type author struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
}

type comment struct {
	Author  author `json:"author"`
	Body    string `json:"body"`
	Created Time   `json:"created"`
	Updated Time   `json:"updated"`
}

type issue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string  `json:"summary"`
		Description *string `json:"description"`
		Comment     struct {
			Comments []comment `json:"comments"`
		} `json:"comment"`
		Created Time `json:"created"`
		Updated Time `json:"updated"`
	} `json:"fields"`
}

// Client reads issues from Jira
type Client struct {
	client *rest.Client
}

// Ensure Client implements changelog.IssueProvider
var _ changelog.IssueProvider = (*Client)(nil)

// NewClient creates a new Jira client on top of a REST client
func NewClient(client *rest.Client) *Client {
	return &Client{client: client}
}

// GetIssue fetches one issue by key
func (c *Client) GetIssue(ctx context.Context, key string) (*models.Issue, error) {
	path := strings.ReplaceAll(GET_ISSUE_ENDPOINT, "{issueKey}", url.PathEscape(key))

	var raw issue
	if err := c.client.Get(ctx, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", key, err)
	}

	comments := make([]models.Comment, 0, len(raw.Fields.Comment.Comments))
	for _, cm := range raw.Fields.Comment.Comments {
		comments = append(comments, models.Comment{
			Author: models.IssueAuthor{
				Name:        cm.Author.Name,
				Key:         cm.Author.Key,
				DisplayName: cm.Author.DisplayName,
			},
			Body:    cm.Body,
			Created: cm.Created.Time,
			Updated: cm.Updated.Time,
		})
	}

	return &models.Issue{
		Key:         raw.Key,
		Summary:     raw.Fields.Summary,
		Description: raw.Fields.Description,
		Comments:    comments,
		Created:     raw.Fields.Created.Time,
		Updated:     raw.Fields.Updated.Time,
	}, nil
}

// BrowseURL returns the human-facing URL of an issue
func (c *Client) BrowseURL(key string) string {
	return BrowseURL(c.client.BaseURL().String(), key)
}

// BrowseURL joins a Jira base URL and an issue key into a browse link
func BrowseURL(baseURL, key string) string {
	return strings.TrimSuffix(baseURL, "/") + "/browse/" + key
}
