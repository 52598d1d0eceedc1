package nipc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tiedie-sdk/pkg/auth"
)

// Media types used by the NIPC API.
const (
	MediaTypeNIPC    = "application/nipc+json"
	MediaTypeSDF     = "application/sdf+json"
	MediaTypeProblem = problemMediaType
)

const (
	// DefaultTimeout bounds a whole call, including reading the body.
	DefaultTimeout = time.Minute

	// DefaultRetries is the connection retry count sent with connect and discover.
	DefaultRetries = 3
)

// ErrDeviceIDRequired is returned before any network call when a device
// identifier is missing or blank.
var ErrDeviceIDRequired = errors.New("nipc: device ID is required")

// Logger is the logging interface used by the client.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client talks to the NIPC API of a TieDie gateway.
//
// A Client holds no per-call state and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	accept     string
	auth       auth.Authenticator
	logger     Logger

	requestCounter atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The caller is responsible for
// its TLS settings. hc itself is never modified; WithTimeout applies to a
// copy. A nil hc keeps the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout overrides DefaultTimeout, or the timeout of a client given
// to WithHTTPClient. Non-positive durations are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the request logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a NIPC client for the API rooted at baseURL,
// e.g. "https://gateway.example.com/nipc".
func NewClient(baseURL string, authenticator auth.Authenticator, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		accept:  MediaTypeNIPC + ", " + MediaTypeSDF + ", " + MediaTypeProblem,
		auth:    authenticator,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = defaultHTTPClient(authenticator)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}

	return c
}

func defaultHTTPClient(authenticator auth.Authenticator) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if authenticator != nil {
		if tlsConfig := authenticator.TLSConfig(); tlsConfig != nil {
			transport.TLSClientConfig = tlsConfig.Clone()
		}
	}

	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: transport,
	}
}

// do issues one request. Only failures up to receiving the response headers
// are returned as errors.
func (c *Client) do(ctx context.Context, method, path string, body any, contentType string) (*http.Response, error) {
	var reader io.Reader
	if contentType != "" {
		payload := []byte{}
		if body != nil {
			var err error
			payload, err = json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
		}
		reader = bytes.NewReader(payload)
	}

	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err := c.setHeaders(req, contentType); err != nil {
		return nil, err
	}

	id := c.requestCounter.Add(1)
	c.logger.Debug("nipc request", "request", id, "method", method, "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("nipc request failed", "request", id, "method", method, "url", reqURL, "error", err)
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	c.logger.Debug("nipc response", "request", id, "status", resp.StatusCode, "headers", flattenHeaders(resp.Header))

	return resp, nil
}

// setHeaders sets common headers for API requests.
func (c *Client) setHeaders(req *http.Request, contentType string) error {
	req.Header.Set("Accept", c.accept)
	req.Header.Set("x-message-id", generateMessageID())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.auth != nil {
		if err := c.auth.AuthorizeRequest(req); err != nil {
			return fmt.Errorf("failed to authorize request: %w", err)
		}
	}

	return nil
}

// call issues a request and maps its response. decodeBody=false is used for
// operations whose success responses carry nothing of interest.
func call[T any](ctx context.Context, c *Client, method, path string, body any, contentType string, decodeBody bool) (Response[T], error) {
	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return Response[T]{}, err
	}
	defer resp.Body.Close()

	return mapResponse[T](resp, decodeBody), nil
}

func get[T any](ctx context.Context, c *Client, path string) (Response[T], error) {
	return call[T](ctx, c, http.MethodGet, path, nil, "", true)
}

func post[T any](ctx context.Context, c *Client, path string, body any, contentType string) (Response[T], error) {
	return call[T](ctx, c, http.MethodPost, path, body, contentType, true)
}

func put[T any](ctx context.Context, c *Client, path string, body any, contentType string) (Response[T], error) {
	return call[T](ctx, c, http.MethodPut, path, body, contentType, true)
}

func del[T any](ctx context.Context, c *Client, path string) (Response[T], error) {
	return call[T](ctx, c, http.MethodDelete, path, nil, "", true)
}

func validateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrDeviceIDRequired
	}
	return nil
}

// encode escapes a query value, spaces as %20.
func encode(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

func pathSegment(id string) string {
	return url.PathEscape(id)
}

func devicePath(deviceID, suffix string) string {
	return "/devices/" + pathSegment(deviceID) + suffix
}

// generateMessageID creates a unique message ID for each request.
func generateMessageID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}
