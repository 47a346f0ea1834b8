package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/FleetAI/fleet-console/internal/contextutil"
)

const (
	FleetApiKey   = "FLEET-API-KEY"
	ContentType   = "Content-Type"
	RequestIDHead = "X-Request-ID"

	defaultTimeout = 60 * time.Second
)

// Fleet is the HTTP client for the fleet data gateway.
type Fleet struct {
	baseURL string
	apiKey  string
	logger  *zap.Logger
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

type Option func(*Fleet)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fleet) { f.http = c }
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fleet) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout bounds every request, including reading the response body.
func WithTimeout(d time.Duration) Option {
	return func(f *Fleet) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func NewClient(log *zap.Logger, url, apiKey string, opts ...Option) *Fleet {
	f := &Fleet{
		baseURL: url,
		apiKey:  apiKey,
		logger:  log,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// APIError is returned for any non-2xx gateway response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a gateway 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// envelope is the gateway response wrapper: {"status": "success", "data": ...}
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// do sends one request and, when out is non-nil, decodes the envelope data into it.
func (f *Fleet) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := f.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	var reqBody []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = b
		body = bytes.NewReader(b)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID, ok := contextutil.GetRequestID(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set(ContentType, "application/json")
	req.Header.Set(FleetApiKey, f.apiKey)
	req.Header.Set(RequestIDHead, requestID)

	f.logger.Debug("Making request to fleet gateway",
		zap.String("method", method),
		zap.String("endpoint", path),
		zap.String("request_id", requestID),
		zap.ByteString("body", reqBody))

	resp, err := f.http.Do(req)
	if err != nil {
		f.logger.Error("HTTP request failed", zap.String("url", endpoint), zap.Error(err))
		return fmt.Errorf("failed to do request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Warn("Failed to close response body", zap.Error(err))
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Error("Failed to read response body", zap.String("url", endpoint), zap.Error(err))
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Error("API request failed",
			zap.String("url", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(respBody)))
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	f.logger.Debug("Gateway request succeeded",
		zap.String("method", method),
		zap.String("endpoint", path),
		zap.Int("status", resp.StatusCode))

	if out == nil || len(respBody) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		f.logger.Error("Failed to parse response", zap.String("url", endpoint), zap.Error(err))
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("empty data in response from %s", path)
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], env.Data...)
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		f.logger.Error("Failed to decode response data", zap.String("url", endpoint), zap.Error(err))
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func idPath(format string, ids ...int64) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf(format, args...)
}
