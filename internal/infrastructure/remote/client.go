// Package remote talks to the managed marketplace backend over HTTP. The
// Client handles URLs, headers, request ids, rate limiting, tracing and
// optional retries; Source translates list operations into API calls.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HeaderRequestID carries the client generated id of each request
const HeaderRequestID = "X-Request-ID"

const tracerName = "github.com/erp/console/internal/infrastructure/remote"

// Config configures the HTTP client
type Config struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	Headers    map[string]string
	RateLimit  float64 // requests per second, 0 = unlimited
	RateBurst  int
	Retry      RetryConfig
}

// RetryConfig configures retry behavior. Only idempotent requests are ever
// retried, and only when MaxRetries is positive.
type RetryConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	ShouldRetry func(resp *http.Response, err error) bool
}

// DefaultRetryConfig returns the default retry configuration: no retries
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  0,
		RetryDelay:  500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		ShouldRetry: retryable,
	}
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// Client is the HTTP client of the managed backend
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	apiVersion string
	headers    map[string]string
	auth       Authenticator
	limiter    *rate.Limiter
	retry      RetryConfig
	tracer     trace.Tracer
	logger     *zap.Logger
	mu         sync.RWMutex
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAuthenticator adds credentials to every request
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) {
		c.auth = a
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.Named("remote")
		}
	}
}

// WithTracerProvider sets the tracer provider used for request spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewClient creates a new HTTP client for the backend at cfg.BaseURL
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	retry := cfg.Retry
	defaults := DefaultRetryConfig()
	if retry.RetryDelay <= 0 {
		retry.RetryDelay = defaults.RetryDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = defaults.MaxDelay
	}
	if retry.Multiplier <= 0 {
		retry.Multiplier = defaults.Multiplier
	}
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = defaults.ShouldRetry
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: cfg.Timeout,
		},
		baseURL:    base,
		apiVersion: strings.Trim(cfg.APIVersion, "/"),
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   "erp-console/1.0",
		},
		retry:  retry,
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		logger: zap.NewNop(),
	}
	for k, v := range cfg.Headers {
		c.headers[k] = v
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request represents an HTTP request to be executed
type Request struct {
	Op      string
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    any
}

// Response represents a successful HTTP response
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	RequestID  string
}

// Do executes a request. Non-2xx answers and transport failures are returned
// as *shared.RemoteError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	op := req.Op
	if op == "" {
		op = strings.ToLower(req.Method)
	}

	u, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, shared.WrapRemote(op, shared.RemoteCodeNetwork, err)
	}

	var body []byte
	if req.Body != nil {
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, shared.WrapRemote(op, shared.RemoteCodeDecode, fmt.Errorf("marshaling request body: %w", err))
		}
	}

	requestID := uuid.NewString()
	ctx = logger.WithRequestID(ctx, requestID)
	ctx, span := c.tracer.Start(ctx, "remote."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", u.Path),
			attribute.String("request.id", requestID),
		))
	defer span.End()

	log := logger.Enrich(ctx, c.logger)
	maxRetries := 0
	if isIdempotent(req.Method) {
		maxRetries = c.retry.MaxRetries
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, c.fail(span, shared.WrapRemote(op, shared.RemoteCodeNetwork, ctx.Err()))
			case <-time.After(c.backoff(attempt)):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, c.fail(span, shared.WrapRemote(op, shared.RemoteCodeNetwork, err))
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, c.fail(span, shared.WrapRemote(op, shared.RemoteCodeNetwork, err))
		}
		c.setHeaders(httpReq, req.Headers)
		httpReq.Header.Set(HeaderRequestID, requestID)
		if c.auth != nil {
			if err := c.auth.Authenticate(httpReq); err != nil {
				return nil, c.fail(span, &shared.RemoteError{Op: op, Code: "UNAUTHENTICATED", Message: err.Error(), Err: err})
			}
		}
		propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

		start := time.Now()
		httpResp, err := c.httpClient.Do(httpReq)
		elapsed := time.Since(start)

		var respBody []byte
		if err == nil {
			respBody, err = io.ReadAll(httpResp.Body)
			httpResp.Body.Close()
			if err != nil {
				err = fmt.Errorf("reading response body: %w", err)
			}
		}

		if attempt < maxRetries && c.retry.ShouldRetry(httpResp, err) {
			log.Debug("Retrying backend request",
				zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		if err != nil {
			log.Warn("Backend request failed", zap.String("op", op), zap.Duration("elapsed", elapsed), zap.Error(err))
			return nil, c.fail(span, shared.WrapRemote(op, shared.RemoteCodeNetwork, err))
		}

		span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))
		log.Debug("Backend request",
			zap.String("op", op),
			zap.String("method", req.Method),
			zap.String("path", u.Path),
			zap.Int("status", httpResp.StatusCode),
			zap.Duration("elapsed", elapsed))

		if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
			return nil, c.fail(span, ParseError(op, httpResp.StatusCode, respBody))
		}
		return &Response{
			StatusCode: httpResp.StatusCode,
			Headers:    httpResp.Header,
			Body:       respBody,
			Duration:   elapsed,
			RequestID:  requestID,
		}, nil
	}
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// SetHeader sets a default header for all requests
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// BaseURL returns the client's base URL
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// buildURL resolves an escaped path below the base URL and API version
func (c *Client) buildURL(path string, query url.Values) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if c.apiVersion != "" && !strings.HasPrefix(path, "/"+c.apiVersion+"/") {
		path = "/" + c.apiVersion + path
	}

	u := *c.baseURL
	u.RawPath = strings.TrimSuffix(c.baseURL.EscapedPath(), "/") + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	u.Path = unescaped
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return &u, nil
}

func (c *Client) setHeaders(req *http.Request, custom map[string]string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range custom {
		req.Header.Set(k, v)
	}
}

// backoff calculates the delay before the given attempt with ±25% jitter
func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.retry.RetryDelay) * math.Pow(c.retry.Multiplier, float64(attempt-1))
	if delay > float64(c.retry.MaxDelay) {
		delay = float64(c.retry.MaxDelay)
	}
	jitter := delay * 0.25
	delay += (rand.Float64()*2 - 1) * jitter
	return time.Duration(delay)
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
