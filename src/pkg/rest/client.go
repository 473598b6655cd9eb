// Package rest is the JSON-over-HTTP transport shared by every upstream client.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

var logger = log.WithField("package", "rest")

const (
	APPLICATION_JSON = "application/json"
	DEFAULT_TIMEOUT  = 5 * time.Second

	maxErrorBody = 1024
)

// Config is captured once when the client is built
type Config struct {
	// Service names the upstream in logs and metrics, e.g. "bitbucket"
	Service string
	BaseURL string
	Timeout time.Duration

	// Token is sent as a bearer token unless Username is set,
	// in which case Username/Token are sent as basic auth.
	Token    string
	Username string

	// Transport overrides http.DefaultTransport
	Transport http.RoundTripper
	Metrics   *metrics.Recorder
}

// Client performs JSON requests relative to a base URL
type Client struct {
	service  string
	baseURL  *url.URL
	username string
	token    string
	hc       *http.Client
	metrics  *metrics.Recorder
}

// StatusError is returned for any non-2xx response
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// NewClient creates a new REST client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", cfg.Service)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL %s: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %s must be absolute", cfg.BaseURL)
	}
	// Without a trailing slash ResolveReference would drop the last path segment.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	return &Client{
		service:  cfg.Service,
		baseURL:  base,
		username: cfg.Username,
		token:    cfg.Token,
		hc:       NewHTTPClient(cfg),
		metrics:  cfg.Metrics,
	}, nil
}

// NewHTTPClient builds the traced HTTP client described by cfg. Bearer tokens are
// injected by the transport; basic auth is left to the caller.
func NewHTTPClient(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	transport = otelhttp.NewTransport(transport)
	if cfg.Token != "" && cfg.Username == "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
			Base:   transport,
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// BaseURL returns the normalized base URL
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Get fetches path relative to the base URL and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON posts body as JSON and decodes the JSON response into out
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, nil, payload, out)
}

// BuildURL resolves path against the base URL and merges query into it.
// A leading slash is ignored so paths always stay below the base URL.
func (c *Client) BuildURL(path string, query url.Values) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request URL with base URL %s and path %s: %w", c.baseURL, path, err)
	}
	full := c.baseURL.ResolveReference(ref)
	if len(query) > 0 {
		merged := full.Query()
		for k, vs := range query {
			merged.Del(k)
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
		full.RawQuery = merged.Encode()
	}
	return full, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte, out interface{}) (err error) {
	full, err := c.BuildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, full.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", APPLICATION_JSON)
	req.Header.Set("Content-Type", APPLICATION_JSON)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.token)
	}

	logger.WithField("service", c.service).WithField("method", method).WithField("url", full.String()).Debug("Making request")
	started := time.Now()
	defer func() {
		c.metrics.ObserveRequest(c.service, method, time.Since(started), err)
	}()

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s %s: %w", method, full, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			URL:        full.String(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s %s: %w", method, full, err)
	}
	return nil
}
