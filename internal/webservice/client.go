// Package webservice is the narrow transport primitive the inbox protocol
// clients are built on: it executes one JSON request and returns either
// the raw response body or a typed failure.
package webservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Typed failure taxonomy surfaced by the transport. Callers match with
// errors.Is and map each kind to their own user-safe message.
var (
	// ErrForbidden is returned on an HTTP 403, typically a bad or
	// missing authentication key in user-identifier mode.
	ErrForbidden = errors.New("webservice: forbidden")

	// ErrOptedOut is returned when the client has been globally opted
	// out; no request is issued.
	ErrOptedOut = errors.New("webservice: opted out")

	// ErrNetwork covers unreachable hosts, timeouts, and unexpected
	// HTTP statuses.
	ErrNetwork = errors.New("webservice: network failure")

	// ErrParsing is returned when the response body is not valid JSON.
	ErrParsing = errors.New("webservice: response parsing failure")
)

const defaultTimeout = 30 * time.Second

// Client is a thin HTTP client for the inbox API. It handles URL
// building, JSON marshaling, and the failure taxonomy; it imposes no
// retry policy of its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
	optedOut   atomic.Bool
}

// NewClient creates a transport client rooted at baseURL
// (e.g. https://inbox.example.com/v1).
func NewClient(baseURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		log: log,
	}
}

// SetOptedOut toggles the global opt-out state. While opted out, every
// request fails with ErrOptedOut before any I/O.
func (c *Client) SetOptedOut(optedOut bool) {
	c.optedOut.Store(optedOut)
}

// Get performs a GET request and returns the raw JSON response body.
func (c *Client) Get(
	ctx context.Context,
	path string,
	query url.Values,
	headers map[string]string,
) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, query, headers, nil)
}

// Post performs a POST request with a JSON body and returns the raw JSON
// response body.
func (c *Client) Post(
	ctx context.Context,
	path string,
	query url.Values,
	headers map[string]string,
	body interface{},
) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, query, headers, body)
}

// do builds and executes the request, then maps the outcome onto the
// failure taxonomy.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	headers map[string]string,
	body interface{},
) (json.RawMessage, error) {
	if c.optedOut.Load() {
		return nil, ErrOptedOut
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.log.Debug("executing inbox webservice call",
		zap.String("method", method),
		zap.String("url", reqURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: executing %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s returned 403", ErrForbidden, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrNetwork, method, path, resp.StatusCode)
	}

	if !json.Valid(respBody) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrParsing)
	}

	return json.RawMessage(respBody), nil
}

// BuildQuery assembles the shared from/limit pagination parameters.
func BuildQuery(from string, limit int) url.Values {
	query := url.Values{}
	if from != "" {
		query.Set("from", from)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	return query
}
