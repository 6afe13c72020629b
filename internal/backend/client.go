package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/shared"
	"github.com/danghamo/convoy/internal/location"
	"github.com/danghamo/convoy/pkg/logger"
)

const domain = "backend"

// Config holds freight backend client settings
type Config struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	RateLimit        float64 // requests per second
	Burst            int
	UploadAttempts   int
	UploadRetryDelay time.Duration
}

// Client talks to the freight marketplace REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        Config
	logger     *logger.Logger
}

// NewClient creates a backend client
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, shared.WrapError(err, shared.KindInvalidInput, domain, "invalid backend base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.UploadAttempts < 1 {
		cfg.UploadAttempts = 3
	}
	if cfg.UploadRetryDelay < 0 {
		cfg.UploadRetryDelay = time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		cfg:        cfg,
		logger:     log.WithComponent("backend-client"),
	}, nil
}

// LocationUpdate is the body of the location PUT. Coordinates travel as
// strings, the timestamp in Unix milliseconds.
type LocationUpdate struct {
	DriverLatitude  string  `json:"driverLatitude"`
	DriverLongitude string  `json:"driverLongitude"`
	Accuracy        float64 `json:"accuracy"`
	Timestamp       int64   `json:"timestamp"`
}

// NewLocationUpdate builds the wire body for a fix
func NewLocationUpdate(fix location.Fix) LocationUpdate {
	return LocationUpdate{
		DriverLatitude:  geo.FormatDegrees(fix.Coordinate.Latitude),
		DriverLongitude: geo.FormatDegrees(fix.Coordinate.Longitude),
		Accuracy:        fix.AccuracyMeters,
		Timestamp:       fix.Timestamp.UnixMilli(),
	}
}

// ReportLocation pushes a driver's position. Only the HTTP status is checked.
func (c *Client) ReportLocation(ctx context.Context, driverID string, fix location.Fix) error {
	if driverID == "" {
		return shared.ErrInvalidInput("driver id is required")
	}

	body, err := json.Marshal(NewLocationUpdate(fix))
	if err != nil {
		return shared.WrapError(err, shared.KindInvalidInput, domain, "encode location update")
	}

	path := fmt.Sprintf("/drivers/%s/location", url.PathEscape(driverID))
	resp, err := c.do(ctx, http.MethodPut, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("Location reported",
		zap.String("driver_id", driverID),
		zap.Int("status", resp.StatusCode),
		zap.Bool("fallback", fix.Fallback))
	return nil
}

// do sends a request through the rate limiter and maps failures to kinds
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, shared.WrapError(err, shared.KindNetworkFailure, domain, "rate limiter wait for %s %s", method, path)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, shared.WrapError(err, shared.KindInvalidInput, domain, "build %s %s", method, path)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, shared.WrapError(err, shared.KindNetworkFailure, domain, "%s %s", method, path)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()

	c.logger.Warn("Backend returned error status",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	return nil, statusError(resp.StatusCode, method, path, strings.TrimSpace(string(snippet)))
}

// StatusError carries the HTTP status of a failed backend call
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

func statusError(code int, method, path, body string) error {
	cause := &StatusError{StatusCode: code, Body: body}
	switch {
	case code == http.StatusNotFound:
		return shared.WrapError(cause, shared.KindNotFound, domain, "%s %s", method, path)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return shared.WrapError(cause, shared.KindUnauthorized, domain, "%s %s", method, path)
	case code == http.StatusTooManyRequests || code >= 500:
		return shared.WrapError(cause, shared.KindNetworkFailure, domain, "%s %s", method, path)
	default:
		return shared.WrapError(cause, shared.KindRejected, domain, "%s %s", method, path)
	}
}

// retryable reports whether a failed call may succeed if repeated
func retryable(err error) bool {
	return shared.IsKind(err, shared.KindNetworkFailure)
}

// getJSON fetches path and decodes it leniently into a field map. A
// top-level "data" object is unwrapped.
func (c *Client) getJSON(ctx context.Context, path string) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, shared.WrapError(err, shared.KindMalformedResponse, domain, "decode %s", path)
	}
	if inner, ok := payload["data"].(map[string]any); ok {
		return inner, nil
	}
	return payload, nil
}
