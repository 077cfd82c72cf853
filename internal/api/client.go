// Package api is the REST client for the LegalCheck backend. It serves the
// chat store as its transfer path when the websocket is not open, and the
// CLI for session and document lookups.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/legalcheck/legalcheck-client/internal/auth"
	"github.com/legalcheck/legalcheck-client/internal/observability"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultCookieName = "legalcheck_access_token"
	maxErrorBody      = 4096
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:8000/api/v1/".
	BaseURL string

	Timeout    time.Duration
	Tokens     auth.TokenSource
	CookieName string

	// DebugRequests logs every request and response at debug level.
	DebugRequests bool

	// RequestsPerSecond enables client-side throttling when positive.
	RequestsPerSecond float64
	Burst             int

	// HTTPClient overrides the default client. Its Timeout is left alone.
	HTTPClient *http.Client
}

// Client performs the REST calls. It never retries.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     auth.TokenSource
	cookieName string
	debug      bool
	limiter    *rate.Limiter

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewClient validates cfg and builds a client. logger, metrics and tracer
// may be nil.
func NewClient(cfg Config, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("api base url is required")
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := &Client{
		baseURL:    base,
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		cookieName: cookieName,
		debug:      cfg.DebugRequests,
		logger:     logger.With("component", "api"),
		metrics:    metrics,
		tracer:     tracer,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return client, nil
}

// request describes one call. route is the templated path used for metric
// labels so ids do not explode cardinality.
type request struct {
	method    string
	path      string
	route     string
	jsonBody  any
	form      map[string]string
	anonymous bool
}

func (c *Client) doJSON(ctx context.Context, req request, out any) error {
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.path, err)
	}
	return nil
}

// send performs req and returns the response when the status is 2xx. The
// caller owns the body.
func (c *Client) send(ctx context.Context, req request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", req.path, err)
		}
	}

	ctx, span := c.tracer.TraceAPIRequest(ctx, req.method, req.route)
	defer span.End()

	requestID := uuid.NewString()
	ctx = observability.AddRequestID(ctx, requestID)

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}
	target := c.baseURL.ResolveReference(&url.URL{Path: strings.TrimPrefix(req.path, "/")})
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target.String(), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if !req.anonymous {
		if err := c.attachToken(ctx, httpReq); err != nil {
			return nil, err
		}
	}
	observability.InjectHeaders(ctx, httpReq.Header)

	if c.debug {
		c.logRequest(ctx, httpReq, req.form)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordAPIRequest(req.method, req.route, "error", time.Since(start).Seconds())
		c.tracer.RecordError(span, err)
		return nil, fmt.Errorf("request %s %s: %w", req.method, req.path, err)
	}
	c.metrics.RecordAPIRequest(req.method, req.route, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	if c.debug {
		c.logger.DebugContext(ctx, "api response",
			"method", req.method,
			"url", target.String(),
			"status", resp.StatusCode,
			"duration", time.Since(start),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Method:     req.method,
			Path:       req.path,
			StatusCode: resp.StatusCode,
			Detail:     parseDetail(data),
		}
		c.tracer.RecordError(span, apiErr)
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) attachToken(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			return nil
		}
		return err
	}
	req.AddCookie(&http.Cookie{Name: c.cookieName, Value: token})
	return nil
}

func encodeBody(req request) (io.Reader, string, error) {
	switch {
	case req.form != nil:
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		for key, value := range req.form {
			if err := writer.WriteField(key, value); err != nil {
				return nil, "", fmt.Errorf("encode form field %s: %w", key, err)
			}
		}
		if err := writer.Close(); err != nil {
			return nil, "", fmt.Errorf("encode form: %w", err)
		}
		return &buf, writer.FormDataContentType(), nil
	case req.jsonBody != nil:
		data, err := json.Marshal(req.jsonBody)
		if err != nil {
			return nil, "", fmt.Errorf("encode %s: %w", req.path, err)
		}
		return bytes.NewReader(data), "application/json", nil
	default:
		return nil, "", nil
	}
}

// logRequest emits the request line and form fields. Field values pass
// through the logger's redaction, so passwords are never written.
func (c *Client) logRequest(ctx context.Context, req *http.Request, form map[string]string) {
	attrs := []any{"method", req.Method, "url", req.URL.String()}
	if len(form) > 0 {
		fields := make([]any, 0, len(form)*2)
		for key, value := range form {
			fields = append(fields, key, value)
		}
		attrs = append(attrs, slog.Group("form", fields...))
	}
	c.logger.DebugContext(ctx, "api request", attrs...)
}
