// Package upstream implements the HTTP client for the model-inference
// provider's chat completions endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultTimeout bounds one upstream call wall-clock; after it the call is
// aborted and fails with ErrTimeout.
const DefaultTimeout = 30 * time.Second

// maxErrorBody limits how much of an upstream error body is retained.
const maxErrorBody = 4 << 10

// ErrTimeout is returned when the upstream call exceeds the configured
// timeout.
var ErrTimeout = errors.New("upstream request timed out")

// StatusError is returned for a non-2xx upstream response, carrying the
// status and body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream request failed with status %d: %s", e.StatusCode, e.Body)
}

// Config holds the settings for the upstream client.
type Config struct {
	BaseURL string
	APIKey  string
	Referer string
	Title   string
	Timeout time.Duration

	// OnBreakerReject, when set, is called with the provider family each time
	// an open breaker short-circuits a call.
	OnBreakerReject func(family string)
}

// Client calls the provider's chat completions endpoint. It wraps each
// provider family in its own circuit breaker so a failing family does not
// consume budgeted retries indefinitely. Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient creates a Client from the given config, applying DefaultTimeout
// when none is set.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// ChatCompletion performs one chat completion call and returns the decoded
// response. The call is bounded by the client timeout; timeouts map to
// ErrTimeout and non-2xx statuses to *StatusError.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	breaker := c.breaker(familyOf(req.Model))

	resp, err := breaker.Execute(func() (interface{}, error) {
		return c.doChatCompletion(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			family := familyOf(req.Model)
			if c.cfg.OnBreakerReject != nil {
				c.cfg.OnBreakerReject(family)
			}
			return nil, fmt.Errorf("provider family %q unavailable: %w", family, err)
		}
		return nil, err
	}
	return resp.(*ChatResponse), nil
}

func (c *Client) doChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var resp ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	return &resp, nil
}

// breaker returns the circuit breaker for a provider family, creating it on
// first use.
func (c *Client) breaker(family string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[family]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    family,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[family] = b
	return b
}

// familyOf extracts the provider family from a model ID such as
// "borealis/chat-large". Models without a family prefix share one breaker.
func familyOf(modelID string) string {
	if i := strings.IndexByte(modelID, '/'); i > 0 {
		return modelID[:i]
	}
	return "default"
}

// isTimeout reports whether the transport error was a deadline or timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
