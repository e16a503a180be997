package cde

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// RPCPath is the endpoint, relative to the CDE base URL, that accepts frames.
const RPCPath = "/cde/rpc"

const maxReplyBytes = 1 << 20

// HTTPTransport posts frames to a CDE over HTTP. Transport failures and 5xx
// replies count against a circuit breaker; while it is open calls fail fast.
type HTTPTransport struct {
	endpoint  string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[Frame]
	userAgent string
}

// HTTPOption customizes an [HTTPTransport].
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) HTTPOption {
	return func(t *HTTPTransport) {
		t.userAgent = ua
	}
}

// WithBreakerSettings overrides the circuit breaker configuration.
func WithBreakerSettings(st gobreaker.Settings) HTTPOption {
	return func(t *HTTPTransport) {
		t.breaker = gobreaker.NewCircuitBreaker[Frame](st)
	}
}

// NewHTTPTransport builds a transport for the CDE at baseURL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	if strings.TrimSpace(baseURL) == "" {
		panic("cde: base URL is required")
	}
	t := &HTTPTransport{
		endpoint: strings.TrimRight(baseURL, "/") + RPCPath,
		client:   &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[Frame](gobreaker.Settings{
			Name:        "cde",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: func(err error) bool {
				if err == nil || errors.Is(err, context.Canceled) {
					return true
				}
				var status *statusError
				if errors.As(err, &status) {
					return status.status < http.StatusInternalServerError
				}
				return false
			},
		}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(t)
	}
	return t
}

// State reports the circuit breaker state.
func (t *HTTPTransport) State() gobreaker.State {
	return t.breaker.State()
}

// RoundTrip implements [Transport].
func (t *HTTPTransport) RoundTrip(ctx context.Context, f Frame) (Frame, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return Frame{}, fmt.Errorf("cde: encode frame: %w", err)
	}
	reply, err := t.breaker.Execute(func() (Frame, error) {
		return t.do(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Frame{}, fmt.Errorf("cde: endpoint unavailable: %w", err)
		}
		return Frame{}, err
	}
	return reply, nil
}

func (t *HTTPTransport) do(ctx context.Context, body []byte) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Frame{}, fmt.Errorf("cde: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("cde: send frame: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Frame{}, fmt.Errorf("cde: read reply: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Frame{}, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("cde: decode reply: %w", err)
	}
	return f, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if len(e.body) > 256 {
		return fmt.Sprintf("cde: endpoint returned %d: %s...", e.status, e.body[:256])
	}
	return fmt.Sprintf("cde: endpoint returned %d: %s", e.status, e.body)
}
