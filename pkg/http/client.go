// Package http is the JSON client used for upstream market data APIs. Every
// request is rate limited, retried on transient failures, guarded by a
// circuit breaker and traced.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "chainwatch/pkg/errors"
	"chainwatch/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "chainwatch/1.0"

// APIError is a response with a status of 400 or above.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Unwrap maps well-known statuses onto the shared sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.ErrAuthenticationFailed
	case http.StatusTooManyRequests:
		return apperrors.ErrRateLimitExceeded
	default:
		return nil
	}
}

// Signer decorates outgoing requests, typically with credentials.
type Signer interface {
	SignRequest(req *http.Request) error
}

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	Timeout           time.Duration // per attempt, default 10s
	Signer            Signer
	UserAgent         string
	MaxRetries        int     // default 3, negative disables retries
	RequestsPerSecond float64 // client side limit, 0 means unlimited
	Burst             int
}

// Client sends JSON requests relative to a base URL.
type Client struct {
	client    *http.Client
	baseURL   string
	signer    Signer
	userAgent string
	limiter   *rate.Limiter
	pipeline  failsafe.Executor[*http.Response]

	tracer   trace.Tracer
	requests metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// transient reports whether a response or error is worth another attempt.
func transient(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// New creates a client for baseURL.
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}

	policies := make([]failsafe.Policy[*http.Response], 0, 2)
	if opts.MaxRetries > 0 {
		policies = append(policies, retrypolicy.NewBuilder[*http.Response]().
			HandleIf(transient).
			WithBackoff(100*time.Millisecond, 2*time.Second).
			WithMaxRetries(opts.MaxRetries).
			Build())
	}
	// 5 failures out of the last 10 executions open the circuit
	policies = append(policies, circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			return err != nil || resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10*time.Second).
		Build())

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	meter := telemetry.GetMeter("chainwatch/http")
	requests, _ := meter.Int64Counter("upstream_requests_total",
		metric.WithDescription("Upstream API requests by path"))
	failures, _ := meter.Int64Counter("upstream_errors_total",
		metric.WithDescription("Upstream API requests that failed or returned an error status"))
	latency, _ := meter.Float64Histogram("upstream_request_duration_seconds",
		metric.WithDescription("Upstream API latency including retries"))

	return &Client{
		client:    &http.Client{Timeout: opts.Timeout},
		baseURL:   baseURL,
		signer:    opts.Signer,
		userAgent: opts.UserAgent,
		limiter:   limiter,
		pipeline:  failsafe.With(policies...),
		tracer:    telemetry.GetTracer("chainwatch/http"),
		requests:  requests,
		failures:  failures,
		latency:   latency,
	}
}

// NewClient creates a client with default retry and no rate limit.
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	return New(baseURL, Options{Timeout: timeout, Signer: signer})
}

// BaseURL returns the URL prefix of every request
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get sends a GET request with params as the query string.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()
	return c.do(req)
}

// Post sends body as JSON. A nil body sends no content.
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

// GetJSON sends a GET request and decodes the response into out
func (c *Client) GetJSON(ctx context.Context, path string, params map[string]string, out interface{}) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// PostJSON sends a POST request and decodes the response into out
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := c.Post(ctx, path, in)
	if err != nil {
		return err
	}
	return decode(body, out)
}

func decode(body []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(req.Context(), req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.URL.Path),
		),
	)
	defer span.End()

	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		if exec.Attempts() > 1 {
			span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", exec.Attempts())))
		}
		return c.attempt(ctx, req)
	})
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.record(ctx, req, status, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("request failed: %w: %w", apperrors.ErrNetwork, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	body, _ := io.ReadAll(resp.Body) // buffered by attempt
	if status >= 400 {
		span.SetStatus(codes.Error, http.StatusText(status))
		return nil, &APIError{StatusCode: status, Body: body}
	}
	return body, nil
}

// attempt sends one copy of req after waiting for the limiter. The response
// body is buffered so a discarded attempt never holds a connection.
func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	clone := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	resp, err := c.client.Do(clone)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

func (c *Client) record(ctx context.Context, req *http.Request, status int, err error, elapsed time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	c.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
	switch {
	case err != nil:
		c.failures.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("reason", "transport"))...))
	case status >= 400:
		c.failures.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.Int("status", status))...))
	}
}
