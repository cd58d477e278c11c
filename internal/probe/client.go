// Package probe speaks both relay-controller protocol dialects over HTTP:
// discovery of device attributes and the device-control actions.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/relayscan/pkg/models"
	"go.uber.org/zap"
)

// DefaultTimeout applies to each HTTP call, not to a whole probe.
const DefaultTimeout = 3500 * time.Millisecond

// maxBodyBytes caps how much of a device response is read.
const maxBodyBytes = 1 << 20

// ErrTimeout marks a call that hit its deadline or was cancelled.
var ErrTimeout = fmt.Errorf("request timed out: %w", models.ErrProbeTimeout)

// errNotJSON marks a 2xx answer that is not a JSON document.
var errNotJSON = errors.New("response is not JSON")

// HTTPError is a non-2xx answer from a device.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("device request %s %s failed (%d): %s", e.Method, e.Path, e.Status, e.Body)
}

// StatusOf returns the HTTP status carried by err, or 0 when err did not
// come from an HTTP answer.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// Target addresses one device.
type Target struct {
	IP          string
	Credentials models.Credentials
	// Timeout overrides the client's per-call timeout when positive.
	Timeout time.Duration
}

// Client issues device requests. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	timeout time.Duration
	port    int
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPort sends requests to a non-default port.
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a probe client.
func New(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
			// Devices never legitimately redirect.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Timeout returns the client's default per-call timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

type response struct {
	Status int
	Header http.Header
	Body   []byte
	JSON   bool
}

// do sends one request with its own deadline. A deadline or cancellation is
// reported as ErrTimeout, a non-2xx answer as *HTTPError.
func (c *Client) do(ctx context.Context, t Target, method, path string, body any) (*response, error) {
	timeout := c.timeout
	if t.Timeout > 0 {
		timeout = t.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(t.IP, path), rdr)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.Credentials.Present() {
		req.SetBasicAuth(t.Credentials.Username, t.Credentials.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || isNetTimeout(err) {
			return nil, fmt.Errorf("%s %s: %w", method, path, errors.Join(ErrTimeout, err))
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: read body: %w", method, path, errors.Join(ErrTimeout, err))
		}
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Body: truncate(string(data), 200)}
	}

	return &response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
		JSON:   isJSON(resp.Header.Get("Content-Type"), data),
	}, nil
}

// getJSON issues a request that must answer with a JSON document.
func (c *Client) getJSON(ctx context.Context, t Target, method, path string, body any) ([]byte, error) {
	resp, err := c.do(ctx, t, method, path, body)
	if err != nil {
		return nil, err
	}
	if !resp.JSON {
		return nil, fmt.Errorf("%s %s: %w", method, path, errNotJSON)
	}
	return resp.Body, nil
}

func (c *Client) url(ip, path string) string {
	host := ip
	if c.port != 0 {
		host = net.JoinHostPort(ip, strconv.Itoa(c.port))
	}
	return "http://" + host + path
}

func isJSON(contentType string, body []byte) bool {
	if strings.Contains(contentType, "application/json") {
		return true
	}
	// Some legacy firmware labels JSON as text/plain.
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// IsTimeout reports whether err is a request deadline or cancellation.
func IsTimeout(err error) bool {
	return errors.Is(err, models.ErrProbeTimeout)
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
