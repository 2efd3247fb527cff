package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/casting/horosafe"
)

// maxHTTPResponseBody caps upstream response reads (10 MiB).
const maxHTTPResponseBody int64 = 10 << 20

// maxErrorBody is how much of a non-2xx body ends up in StatusError.
const maxErrorBody = 256

// Client is a JSON-over-HTTP client for one upstream service. Every call
// goes through WithTimeout and WithCircuitBreaker.
type Client struct {
	service   string
	baseURL   string
	token     string
	userAgent string
	timeout   time.Duration
	breaker   *CircuitBreaker
	http      *http.Client
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBearerToken sends "Authorization: Bearer <token>" on every call.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithCallTimeout sets the per-call timeout. Default: 30s.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithBreaker sets the circuit breaker. Default: NewCircuitBreaker().
// Passing nil disables it.
func WithBreaker(cb *CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithClientLogger sets the logger used for call logging.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for service rooted at baseURL.
func NewClient(service, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		service:   service,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "casting-ingest/1.0",
		timeout:   30 * time.Second,
		breaker:   NewCircuitBreaker(),
		http:      &http.Client{},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Service returns the service name used in errors and logs.
func (c *Client) Service() string { return c.service }

// Breaker returns the client's circuit breaker (may be nil).
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// DoJSON sends in (JSON-encoded, omitted when nil) to method path?query and
// decodes a 2xx response into out (skipped when nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("connectivity: %s: encode request: %w", c.service, err)
		}
		payload = b
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	call := Chain(
		Logging(c.service, c.logger),
		WithCircuitBreaker(c.breaker, c.service),
		WithTimeout(c.service, c.timeout),
	)(c.roundTrip(method, target))

	resp, err := call(ctx, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("connectivity: %s: decode response: %w", c.service, err)
	}
	return nil
}

func (c *Client) roundTrip(method, target string) Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var body *bytes.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		} else {
			body = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, fmt.Errorf("connectivity: %s: create request: %w", c.service, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("connectivity: %s: do request: %w", c.service, err)
		}
		defer resp.Body.Close()

		data, err := horosafe.LimitedReadAll(resp.Body, maxHTTPResponseBody)
		if err != nil {
			return nil, fmt.Errorf("connectivity: %s: read response: %w", c.service, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet := string(data)
			if len(snippet) > maxErrorBody {
				snippet = snippet[:maxErrorBody]
			}
			return nil, &StatusError{Service: c.service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(snippet)}
		}
		return data, nil
	}
}
