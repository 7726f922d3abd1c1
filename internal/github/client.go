// Package github is a small REST and GraphQL client for the GitHub API.
//
// It only talks to one https base URL, refuses redirects, paces
// outbound requests, and retries a bounded number of times on rate
// limits, server errors and network timeouts. Authentication comes
// from a TokenSource; the client never stores credentials itself.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/repogate/internal/clock"
)

// apiVersion pins the REST API version header.
const apiVersion = "2022-11-28"

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	BearerCredential(ctx context.Context) (string, error)
}

// Config holds configuration for a Client.
type Config struct {
	// BaseURL must use https. Defaults to DefaultBaseURL.
	BaseURL string

	// Tokens authenticates API requests. Required for Do and GraphQL;
	// the token exchange authenticates with the assertion instead.
	Tokens TokenSource

	// HTTPClient is copied; redirects are always refused. When nil a
	// client with ConnectTimeout and ReadTimeout is built.
	HTTPClient     *http.Client
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	MaxAttempts int
	MaxBackoff  time.Duration

	RequestsPerSecond float64
	Burst             int

	Clock  clock.Clock
	Logger *slog.Logger

	// Sleep waits between attempts. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	graphqlURL string
	tokens     TokenSource
	httpClient *http.Client
	retry      retryPolicy
	pacing     *pacer
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("github: API client requires an absolute https base URL")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var hc http.Client
	if cfg.HTTPClient != nil {
		hc = *cfg.HTTPClient
	} else {
		hc = http.Client{Transport: newTransport(cfg.ConnectTimeout, cfg.ReadTimeout)}
	}
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Client{
		baseURL:    base,
		graphqlURL: graphqlEndpoint(base),
		tokens:     cfg.Tokens,
		httpClient: &hc,
		retry:      newRetryPolicy(cfg.MaxAttempts, cfg.MaxBackoff, sleep),
		pacing:     newPacer(cfg.RequestsPerSecond, cfg.Burst, clk, sleep),
		clock:      clk,
		logger:     logger,
	}, nil
}

func newTransport(connect, read time.Duration) *http.Transport {
	if connect <= 0 {
		connect = 5 * time.Second
	}
	if read <= 0 {
		read = 30 * time.Second
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = connect
	t.ResponseHeaderTimeout = read
	t.Proxy = nil
	return t
}

// graphqlEndpoint maps a REST base to its GraphQL endpoint. GitHub
// Enterprise serves REST under /api/v3 and GraphQL under /api/graphql.
func graphqlEndpoint(base string) string {
	if strings.HasSuffix(base, "/api/v3") {
		return strings.TrimSuffix(base, "/v3") + "/graphql"
	}
	return base + "/graphql"
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Response is a completed API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// request describes one logical call; it may be sent more than once.
type request struct {
	method string
	url    string
	body   []byte
	// auth overrides the TokenSource when set.
	auth string
}

// Do performs an authenticated REST call and decodes a 2xx JSON body
// into out (when non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.DoResponse(ctx, method, path, in, out)
	return err
}

// DoResponse is Do that also returns the raw response.
func (c *Client) DoResponse(ctx context.Context, method, path string, in, out any) (*Response, error) {
	req := request{method: method, url: c.baseURL + path}
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("github: encoding request body: %w", err)
		}
		req.body = encoded
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("github: decoding %s response: %w", method, err)
		}
	}
	return resp, nil
}

// send resolves the bearer once, then runs the retry loop around
// attempt. Token source failures are never retried here; the exchange
// spends its own budget.
func (c *Client) send(ctx context.Context, req request) (*Response, error) {
	if req.auth == "" {
		if c.tokens == nil {
			return nil, errors.New("github: no token source configured")
		}
		token, err := c.tokens.BearerCredential(ctx)
		if err != nil {
			return nil, err
		}
		req.auth = "Bearer " + token
	}

	for attemptNo := 1; ; attemptNo++ {
		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}

		wait, retryable := c.retry.next(ctx, attemptNo, resp, err)
		if !retryable {
			return nil, err
		}
		c.logger.Debug("retrying github request",
			"method", req.method,
			"attempt", attemptNo,
			"wait", wait,
			"error", err,
		)
		if serr := c.retry.sleep(ctx, wait); serr != nil {
			return nil, fmt.Errorf("github: waiting to retry: %w", serr)
		}
	}
}

// attempt sends req once with req.auth already set. A non-2xx status
// returns both the response and an *APIError.
func (c *Client) attempt(ctx context.Context, req request) (*Response, error) {
	if err := c.pacing.wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", req.auth)
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("X-GitHub-Api-Version", apiVersion)
	httpReq.Header.Set("User-Agent", "repogate")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: req.method, Err: unwrapURLError(err)}
	}
	defer httpResp.Body.Close()

	c.pacing.update(httpResp.Header)

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Method: req.method, Err: err}
	}
	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}

	c.logger.Debug("github request",
		"method", req.method,
		"status", httpResp.StatusCode,
	)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return resp, parseAPIError(httpResp.StatusCode, data)
	}
	return resp, nil
}

// unwrapURLError drops the *url.Error wrapper, whose message carries
// the full request URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// EscapePath escapes every segment of a slash-separated path.
func EscapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// RepoPath builds "/repos/{owner}/{repo}" plus an optional suffix.
func RepoPath(owner, repo string, suffix ...string) string {
	var b strings.Builder
	b.WriteString("/repos/")
	b.WriteString(url.PathEscape(owner))
	b.WriteString("/")
	b.WriteString(url.PathEscape(repo))
	for _, s := range suffix {
		b.WriteString(s)
	}
	return b.String()
}

// WithTokens returns a client sharing c's transport and pacing that
// authenticates with ts.
func (c *Client) WithTokens(ts TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}
