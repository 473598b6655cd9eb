package jira

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/gh-nvat/deployment-changelog/src/pkg/rest"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://jira.test/"

func TestMain(m *testing.M) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	os.Exit(m.Run())
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	rc, err := rest.NewClient(rest.Config{Service: "jira", BaseURL: baseURL})
	require.NoError(t, err)
	return NewClient(rc)
}

func TestTime_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "jira layout with millis",
			input: `"2023-03-20T10:15:30.000+0100"`,
			want:  time.Date(2023, 3, 20, 9, 15, 30, 0, time.UTC),
		},
		{
			name:  "rfc3339",
			input: `"2023-03-20T10:15:30Z"`,
			want:  time.Date(2023, 3, 20, 10, 15, 30, 0, time.UTC),
		},
		{
			name:  "null",
			input: `null`,
		},
		{
			name:    "garbage",
			input:   `"yesterday"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Time
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.Time), "got %s", got.Time)
		})
	}
}

func TestClient_GetIssue(t *testing.T) {
	httpmock.Reset()
	httpmock.RegisterResponder("GET", baseURL+"rest/api/latest/issue/ABC-1",
		httpmock.NewStringResponder(200, `{
			"key": "ABC-1",
			"fields": {
				"summary": "Fix the thing",
				"description": null,
				"comment": {"comments": [
					{"author": {"name": "jdoe", "key": "jdoe", "displayName": "J Doe"}, "body": "done",
					 "created": "2023-03-21T08:00:00.000+0000", "updated": "2023-03-21T09:00:00.000+0000"}
				]},
				"created": "2023-03-20T10:00:00.000+0000",
				"updated": "2023-03-22T10:00:00.000+0000"
			}
		}`))

	issue, err := newTestClient(t).GetIssue(context.Background(), "ABC-1")

	require.NoError(t, err)
	assert.Equal(t, "ABC-1", issue.Key)
	assert.Equal(t, "Fix the thing", issue.Summary)
	assert.Nil(t, issue.Description)
	require.Len(t, issue.Comments, 1)
	assert.Equal(t, "J Doe", issue.Comments[0].Author.DisplayName)
	assert.Equal(t, 48*time.Hour, issue.Updated.Sub(issue.Created))
}

func TestClient_GetIssue_NotFound(t *testing.T) {
	httpmock.Reset()
	httpmock.RegisterResponder("GET", baseURL+"rest/api/latest/issue/ABC-404",
		httpmock.NewStringResponder(404, `{"errorMessages":["Issue does not exist"]}`))

	_, err := newTestClient(t).GetIssue(context.Background(), "ABC-404")
	assert.ErrorContains(t, err, "failed to get issue ABC-404")
}

func TestBrowseURL(t *testing.T) {
	assert.Equal(t, "https://jira.test/browse/ABC-1", BrowseURL("https://jira.test/", "ABC-1"))
	assert.Equal(t, "https://jira.test/jira/browse/ABC-1", BrowseURL("https://jira.test/jira", "ABC-1"))
	assert.Equal(t, "https://jira.test/browse/ABC-2", newTestClient(t).BrowseURL("ABC-2"))
}
