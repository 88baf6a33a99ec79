// Package httpclient is a single-attempt HTTP client for upstream model APIs.
//
// Failures are classified but never retried here: a non-2xx response becomes
// a *StatusError carrying a RetryStrategy and any advertised Retry-After, and
// a transport failure becomes a *TransportError. Package retry decides what to
// do with them.
package httpclient

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RetryStrategy classifies a response status.
type RetryStrategy int

const (
	// NoRetry: the request itself is wrong; repeating it cannot help.
	NoRetry RetryStrategy = iota
	// ConservativeRetry: a transient server fault.
	ConservativeRetry
	// SmartRetry: the server asked us to slow down and may say for how long.
	SmartRetry
)

func (s RetryStrategy) String() string {
	switch s {
	case ConservativeRetry:
		return "conservative"
	case SmartRetry:
		return "smart"
	default:
		return "none"
	}
}

// RetryStrategyFunc maps a status code to a strategy.
type RetryStrategyFunc func(int) RetryStrategy

// DefaultTimeout bounds a single request.
const DefaultTimeout = 60 * time.Second

const maxErrorBody = 4 << 10

type Client struct {
	client       *http.Client
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
	userAgent    string
	baseURL      string
	apiKey       string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithBaseURL sets the upstream root used by Complete, e.g.
// "https://api.openai.com/v1".
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKey sets the bearer token sent by Complete.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: DefaultTimeout},
		headerParser: ParseStandardHeaders,
		strategyFunc: DefaultRetryStrategy,
		userAgent:    "aegis",
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// DefaultRetryStrategy: 429 and 503 are SmartRetry; 408, 500, 502 and 504 are
// ConservativeRetry; everything else is NoRetry.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do sends req once. On a 2xx status the response is returned for the caller
// to read and close. Any other status yields a *StatusError with the body
// consumed; a transport failure yields a *TransportError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// A cancelled caller context is not an upstream fault.
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	return nil, c.statusError(resp)
}

func (c *Client) statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	strategy := c.strategyFunc(resp.StatusCode)
	se := &StatusError{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp.StatusCode, body),
		Strategy:   strategy,
	}
	if strategy == SmartRetry && c.headerParser != nil {
		se.RetryAfter = c.headerParser(resp.Header).Wait()
	}

	slog.Debug("Upstream returned error status",
		"status", resp.StatusCode,
		"strategy", strategy.String(),
		"retry_after", se.RetryAfter)
	return se
}

func errorMessage(status int, body []byte) string {
	if msg := extractAPIError(body); msg != "" {
		return msg
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}

// ErrNoBaseURL is returned by Complete when no upstream is configured.
var ErrNoBaseURL = errors.New("upstream base URL not configured")

func (c *Client) endpoint(path string) (string, error) {
	if c.baseURL == "" {
		return "", ErrNoBaseURL
	}
	return fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/")), nil
}
