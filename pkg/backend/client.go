package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// Client wraps the fleet backend HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// Config holds backend client configuration.
type Config struct {
	APIURL      string
	AuthToken   string
	InsecureTLS bool
	Timeout     time.Duration
}

// StatusError is a non-success HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// NewClient creates a new backend API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("backend API URL is required")
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("parsing backend API URL: %w", err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		authToken: cfg.AuthToken,
	}, nil
}

// Ping checks if the backend API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/analytics", nil, nil, nil)
}

// do issues a request and decodes a JSON response into out. Every failure
// is reported as a *models.UpstreamError.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &models.UpstreamError{Op: op, Err: fmt.Errorf("marshaling request: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &models.UpstreamError{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &models.UpstreamError{Op: op, Err: &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.UpstreamError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// isStatus reports whether err carries the given HTTP status.
func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
