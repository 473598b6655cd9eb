package bitbucket

import (
	"time"

	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
)

// page is the envelope of every paged Bitbucket Server collection
type page[T any] struct {
	Values        []T  `json:"values"`
	Size          int  `json:"size"`
	IsLastPage    bool `json:"isLastPage"`
	Start         int  `json:"start"`
	Limit         int  `json:"limit"`
	NextPageStart *int `json:"nextPageStart"`
}

type author struct {
	Name         string `json:"name"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

type commit struct {
	ID        string `json:"id"`
	DisplayID string `json:"displayId"`
	Author    author `json:"author"`
	Committer author `json:"committer"`
	Message   string `json:"message"`
}

type pullRequestAuthor struct {
	User     author `json:"user"`
	Approved bool   `json:"approved"`
}

// pullRequest dates are epoch milliseconds
type pullRequest struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Open        bool              `json:"open"`
	Author      pullRequestAuthor `json:"author"`
	CreatedDate int64             `json:"createdDate"`
	UpdatedDate int64             `json:"updatedDate"`
}

type pullRequestIssue struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func (a author) toModel() models.Author {
	return models.Author{
		Name:         a.Name,
		EmailAddress: a.EmailAddress,
		DisplayName:  a.DisplayName,
	}
}

func toCommit(c commit) models.Commit {
	return models.Commit{
		ID:        c.ID,
		DisplayID: c.DisplayID,
		Author:    c.Author.toModel(),
		Committer: c.Committer.toModel(),
		Message:   c.Message,
	}
}

func toPullRequest(pr pullRequest) models.PullRequest {
	return models.PullRequest{
		ID:          pr.ID,
		Title:       pr.Title,
		Description: pr.Description,
		Open:        pr.Open,
		Author: models.PullRequestAuthor{
			User:     pr.Author.User.toModel(),
			Approved: pr.Author.Approved,
		},
		CreatedDate: time.UnixMilli(pr.CreatedDate).UTC(),
		UpdatedDate: time.UnixMilli(pr.UpdatedDate).UTC(),
	}
}

func toIssueReference(i pullRequestIssue) models.IssueReference {
	return models.IssueReference{
		Key: i.Key,
		URL: i.URL,
	}
}
