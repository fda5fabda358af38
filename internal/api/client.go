// Package api is the HTTP client for the JSON API of the application under
// test. Every module is served under its own base path (by default
// /api/<module>); the module table is part of the configuration.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/petroverify/internal/jsonpath"
)

// DefaultModules is the module table of the application.
var DefaultModules = map[string]string{
	"risk":           "/api/risk",
	"gis":            "/api/gis",
	"control-center": "/api/control-center",
}

// Options configures a Client.
type Options struct {
	BaseURL string

	// Modules maps a module name to its base path. Unknown modules fall back
	// to /api/<module>.
	Modules map[string]string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client issues calls against the API.
type Client struct {
	base    *url.URL
	modules map[string]string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", opts.BaseURL)
	}

	modules := make(map[string]string, len(DefaultModules)+len(opts.Modules))
	for k, v := range DefaultModules {
		modules[k] = v
	}
	for k, v := range opts.Modules {
		modules[k] = v
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{base: base, modules: modules, http: client, logger: logger}, nil
}

// Call is one API request.
type Call struct {
	// Module selects the base path from the module table. Empty means the
	// path is relative to the base URL.
	Module string `yaml:"module,omitempty" json:"module,omitempty"`

	Method string     `yaml:"method" json:"method"`
	Path   string     `yaml:"path" json:"path"`
	Query  url.Values `yaml:"query,omitempty" json:"query,omitempty"`

	// Body is sent as JSON. []byte and json.RawMessage are sent verbatim.
	Body any `yaml:"body,omitempty" json:"body,omitempty"`
}

// String renders the call as "METHOD module:/path".
func (c Call) String() string {
	m := c.Method
	if m == "" {
		m = http.MethodGet
	}
	return m + " " + c.Module + ":" + c.Path
}

// Response is a completed API exchange. Non-2xx statuses are responses,
// not errors.
type Response struct {
	Method   string        `json:"method"`
	URL      string        `json:"url"`
	Status   int           `json:"status"`
	Header   http.Header   `json:"-"`
	Body     []byte        `json:"-"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Get decodes the value at a JSON path of the body.
func (r *Response) Get(path string) (any, error) {
	return jsonpath.Get(r.Body, path)
}

// GetString returns the value at path as a string.
func (r *Response) GetString(path string) (string, error) {
	return jsonpath.String(r.Body, path)
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.Method, r.URL, err)
	}
	return nil
}

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// URL resolves the absolute URL of a call.
func (c *Client) URL(call Call) (string, error) {
	prefix := ""
	if call.Module != "" {
		var ok bool
		prefix, ok = c.modules[call.Module]
		if !ok {
			prefix = "/api/" + call.Module
		}
	}

	rel, err := url.Parse(strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(call.Path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", call.Path, err)
	}
	u := c.base.ResolveReference(rel)
	if len(call.Query) > 0 {
		q := u.Query()
		for k, vs := range call.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Do performs a call.
func (c *Client) Do(ctx context.Context, call Call) (*Response, error) {
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.URL(call)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if call.Body != nil {
		var payload []byte
		switch b := call.Body.(type) {
		case []byte:
			payload = b
		case json.RawMessage:
			payload = b
		case string:
			payload = []byte(b)
		default:
			payload, err = json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("encode body for %s %s: %w", method, target, err)
			}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("api transport error", "method", method, "url", target, "error", err)
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}

	out := &Response{
		Method:   method,
		URL:      target,
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     data,
		Duration: time.Since(start),
	}
	c.logger.Debug("api call", "method", method, "url", target, "status", out.Status, "duration", out.Duration)
	return out, nil
}
