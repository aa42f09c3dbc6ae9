// Package apiclient dispatches authenticated calls to the platform REST API
// and normalizes their failures.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"arcadeops/admin-console/internal/observability"
)

const (
	DefaultTimeout = 12 * time.Second
	// DefaultMaxResponseBytes caps how much of a response body is read.
	DefaultMaxResponseBytes = 8 << 20
)

// ErrResponseTooLarge is wrapped by the Unexpected-kind error returned when a
// body exceeds the configured cap.
var ErrResponseTooLarge = errors.New("response too large")

// TokenSource supplies the bearer token for each call.
type TokenSource interface {
	Token() string
}

// UnauthorizedFunc is told which token drew a 401. It must not redirect.
type UnauthorizedFunc func(ctx context.Context, token string)

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Tokens         TokenSource
	OnUnauthorized UnauthorizedFunc
	HTTPClient     *http.Client
	Logger         *slog.Logger
	UserAgent      string
	// MaxResponseBytes defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int64
}

type Client struct {
	base           *url.URL
	timeout        time.Duration
	tokens         TokenSource
	onUnauthorized UnauthorizedFunc
	http           *http.Client
	log            *slog.Logger
	tracer         trace.Tracer
	userAgent      string
	maxBody        int64
}

// Request describes one call. At most one of JSON and Form may be set.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	JSON   any
	Form   *Multipart
	Header http.Header
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = observability.Discard()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "arcadeops-admin-console"
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &Client{
		base:           base,
		timeout:        timeout,
		tokens:         cfg.Tokens,
		onUnauthorized: cfg.OnUnauthorized,
		http:           hc,
		log:            log,
		tracer:         observability.Tracer(),
		userAgent:      ua,
		maxBody:        maxBody,
	}, nil
}

// Do performs req and returns the JSON body, or nil when the body is empty or
// not JSON. Failures are returned as *Error.
func (c *Client) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if req.JSON != nil && req.Form != nil {
		return nil, fmt.Errorf("request %s %s: json and multipart bodies are exclusive", method, req.Path)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "apiclient "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	httpReq, token, err := c.build(ctx, method, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, err
	}
	requestID := httpReq.Header.Get("X-Request-Id")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		apiErr := networkError(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			apiErr.Err = fmt.Errorf("request timed out after %s: %w", c.timeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.log.WarnContext(ctx, "api request failed", "method", method, "path", req.Path, "request_id", requestID, "error", err)
		return nil, apiErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, networkError(fmt.Errorf("read response body: %w", err))
	}
	if int64(len(body)) > c.maxBody {
		span.SetStatus(codes.Error, "response too large")
		c.log.WarnContext(ctx, "api response over size cap", "path", req.Path, "limit_bytes", c.maxBody, "request_id", requestID)
		return nil, &Error{
			Kind:    KindUnexpected,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("response larger than %d bytes", c.maxBody),
			Err:     ErrResponseTooLarge,
		}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.log.DebugContext(ctx, "api request",
		"method", method,
		"path", req.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	payload := jsonPayload(body)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if success && !rejected(payload) {
		return payload, nil
	}

	apiErr := responseError(resp.StatusCode, payload)
	span.SetStatus(codes.Error, apiErr.Message)
	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized(ctx, token)
	}
	return nil, apiErr
}

// DoJSON performs req and decodes the payload into out.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	payload, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || payload == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Path, err)
	}
	return nil
}

func (c *Client) build(ctx context.Context, method string, req Request) (*http.Request, string, error) {
	u := c.base.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		buf, ct, err := req.Form.encode()
		if err != nil {
			return nil, "", err
		}
		body, contentType = buf, ct
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode %s body: %w", req.Path, err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, "", fmt.Errorf("build %s %s request: %w", method, req.Path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	token := ""
	if c.tokens != nil {
		token = strings.TrimSpace(c.tokens.Token())
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, vs := range req.Header {
		if req.Form != nil && strings.EqualFold(k, "Content-Type") {
			// The multipart boundary is owned by the encoder.
			continue
		}
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	return httpReq, token, nil
}

func jsonPayload(body []byte) json.RawMessage {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return nil
	}
	return json.RawMessage(body)
}

func rejected(payload json.RawMessage) bool {
	if len(payload) == 0 || payload[0] != '{' {
		return false
	}
	var env struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return false
	}
	return env.OK != nil && !*env.OK
}
