// Package spinnaker queries the managed-delivery GraphQL API of Spinnaker for environment state.
package spinnaker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gh-nvat/deployment-changelog/src/pkg/changelog"
	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/rest"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "spinnaker")

const (
	GRAPHQL_ENDPOINT = "graphql"

	ENVIRONMENT_STATES_OPERATION = "MdEnvironmentStatesQuery"
	ENVIRONMENT_STATES_QUERY     = `query MdEnvironmentStatesQuery($appName: String!, $environments: [String!]!) {
  application(appName: $appName) {
    name
    environments(names: $environments) {
      name
      state {
        artifacts {
          name
          reference
          versions {
            version
            buildNumber
            status
            gitMetadata {
              commit
              project
              repoName
            }
          }
        }
      }
    }
  }
}`
)

// ErrNoData is returned when a GraphQL response carries neither data nor errors
var ErrNoData = errors.New("no data received for GraphQL call but no errors were found")

type graphQLRequest struct {
	Query         string      `json:"query"`
	OperationName string      `json:"operationName"`
	Variables     interface{} `json:"variables"`
}

type environmentStatesVariables struct {
	AppName      string   `json:"appName"`
	Environments []string `json:"environments"`
}

// GraphQLError is one entry of a GraphQL "errors" array
type GraphQLError struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

// GraphQLErrors is returned when the server answers with a non-empty errors array
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ge := range e {
		msgs = append(msgs, ge.Message)
	}
	return "received errors from GraphQL call: " + strings.Join(msgs, "; ")
}

type graphQLResponse[T any] struct {
	Data   *T            `json:"data"`
	Errors GraphQLErrors `json:"errors"`
}

// Client talks to the Spinnaker gate GraphQL endpoint
type Client struct {
	client *rest.Client
}

// Ensure Client implements changelog.DeploymentStateProvider
var _ changelog.DeploymentStateProvider = (*Client)(nil)

// NewClient creates a new Spinnaker client on top of a REST client
func NewClient(client *rest.Client) *Client {
	return &Client{client: client}
}

// GetEnvironmentStates fetches the artifact versions of the given environments of an application
func (c *Client) GetEnvironmentStates(ctx context.Context, appName string, environments []string) (*models.EnvironmentStates, error) {
	if environments == nil {
		environments = []string{}
	}
	body := graphQLRequest{
		Query:         ENVIRONMENT_STATES_QUERY,
		OperationName: ENVIRONMENT_STATES_OPERATION,
		Variables: environmentStatesVariables{
			AppName:      appName,
			Environments: environments,
		},
	}

	logger.WithField("app", appName).WithField("environments", environments).Debug("Querying environment states")
	var resp graphQLResponse[models.EnvironmentStates]
	if err := c.client.PostJSON(ctx, GRAPHQL_ENDPOINT, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to make GraphQL call %s for application %s: %w", ENVIRONMENT_STATES_OPERATION, appName, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%s for application %s: %w", ENVIRONMENT_STATES_OPERATION, appName, resp.Errors)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%s for application %s: %w", ENVIRONMENT_STATES_OPERATION, appName, ErrNoData)
	}
	return resp.Data, nil
}
