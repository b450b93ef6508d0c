package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout   = 60 * time.Second
	maxErrorBodySize = 4096
	healthPath       = "api/health"
)

var (
	// ErrNotFound matches any *StatusError carrying HTTP 404.
	ErrNotFound = errors.New("remote: not found")

	errMissingBaseURL = errors.New("remote: base url is required")
	noOpLogger        = zap.NewNop()
)

// StatusError reports a non-2xx response from the remote service.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("remote: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Config configures the HTTP client used to reach the remote service.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client speaks JSON over HTTP to the remote service.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient validates the configuration and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	baseURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported base url scheme %q", baseURL.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.Token),
		http:    httpClient,
		logger:  logger,
	}, nil
}

// Health reports whether the remote service answered at all.
// Any HTTP response counts as reachable; only transport failures return an error.
func (c *Client) Health(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, healthPath, nil, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	endpoint := c.baseURL.ResolveReference(&url.URL{Path: path})

	var payload io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode %s body: %w", path, err)
		}
		payload = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), payload)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.http.Do(request)
	if err != nil {
		c.logger.Debug("remote request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodySize))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: response.StatusCode,
			Message:    strings.TrimSpace(string(message)),
		}
	}

	if out == nil || response.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s response: %w", path, err)
	}
	return nil
}
