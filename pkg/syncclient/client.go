package syncclient

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
	"time"

	pkgerrors "github.com/angelmondragon/vetsync/pkg/errors"
	"github.com/angelmondragon/vetsync/pkg/pagination"
)

const (
	defaultPushPath        = "/api/sync/push"
	defaultPullPath        = "/api/sync/pull"
	defaultProbePath       = "/api/health"
	defaultTimeout         = 60 * time.Second
	responseBodyReadLimit  = 4096
	maxResponseBodyDecoded = 32 << 20
)

var errBaseURLRequired = errors.New("sync server base url is required")

// RequestDecorator mutates outgoing requests, typically to attach credentials owned by the host.
type RequestDecorator func(req *http.Request) error

// Client talks to the sync server's push and pull endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pushPath   string
	pullPath   string
	probePath  string
	userAgent  string
	decorators []RequestDecorator
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithPaths overrides the push and pull endpoint paths.
func WithPaths(pushPath, pullPath string) Option {
	return func(c *Client) {
		if p := strings.TrimSpace(pushPath); p != "" {
			c.pushPath = p
		}
		if p := strings.TrimSpace(pullPath); p != "" {
			c.pullPath = p
		}
	}
}

// WithProbePath overrides the path used by Ping.
func WithProbePath(path string) Option {
	return func(c *Client) {
		if p := strings.TrimSpace(path); p != "" {
			c.probePath = p
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// WithRequestDecorator appends a decorator run on every request.
func WithRequestDecorator(fn RequestDecorator) Option {
	return func(c *Client) {
		if fn != nil {
			c.decorators = append(c.decorators, fn)
		}
	}
}

// WithBearerToken attaches a static bearer token to every request.
func WithBearerToken(token string) Option {
	token = strings.TrimSpace(token)
	return WithRequestDecorator(func(req *http.Request) error {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return nil
	})
}

// NewClient builds a sync server client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse sync server url: %w", err)
	}

	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    trimmed,
		pushPath:   defaultPushPath,
		pullPath:   defaultPullPath,
		probePath:  defaultProbePath,
		userAgent:  "vetsync",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Push submits one batch of operations.
func (c *Client) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeTransport, "sync client not configured")
	}
	if req.Ops == nil {
		req.Ops = []Op{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal push request")
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.pushPath, nil, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out PushResponse
	if err := c.do(httpReq, "push", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pull fetches one page of remote changes after since.
func (c *Client) Pull(ctx context.Context, since pagination.Cursor) (*PullPage, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeTransport, "sync client not configured")
	}
	query := url.Values{}
	query.Set("since", since.OrInitial().String())

	httpReq, err := c.newRequest(ctx, http.MethodGet, c.pullPath, query, nil)
	if err != nil {
		return nil, err
	}

	var out PullPage
	if err := c.do(httpReq, "pull", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping reports whether the sync server answers at all. Any response below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeTransport, "sync client not configured")
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, c.probePath, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransport, err, "probe sync server")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseBodyReadLimit))
	if resp.StatusCode >= http.StatusInternalServerError {
		return pkgerrors.New(pkgerrors.CodeTransport, fmt.Sprintf("probe sync server: status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "build sync request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for _, decorate := range c.decorators {
		if err := decorate(req); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "decorate sync request")
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransport, err, op+" request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeTransport,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			op+" request failed").
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyDecoded)).Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransport, err, "decode "+op+" response")
	}
	return nil
}
