package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rflorenc/flowdeck/internal/models"
)

// Client is a shared HTTP client for one endpoint: a managed instance or
// the data service.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// HTTPError is returned for any non-2xx response. The body is kept so the
// instance's own message can be surfaced.
type HTTPError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, truncate(e.Body, 200))
}

// StatusCode returns the HTTP status of err, or 0 if err is not an HTTPError.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

// Endpoint is where and how to reach an HTTP API.
type Endpoint struct {
	BaseURL  string
	Username string
	Password string
	Insecure bool
	CACert   string
}

// NewClient creates a Client from a ManagedInstance.
func NewClient(inst *models.ManagedInstance, timeout time.Duration) *Client {
	return NewEndpointClient(Endpoint{
		BaseURL:  inst.URL(),
		Username: inst.Username,
		Password: inst.Password,
		Insecure: inst.UseTLS && !inst.VerifyTLS,
		CACert:   inst.CACert,
	}, timeout)
}

// NewEndpointClient creates a Client for any endpoint, such as the data
// service that owns settings and flows.
func NewEndpointClient(ep Endpoint, timeout time.Duration) *Client {
	transport := &http.Transport{}
	if ep.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if ep.CACert != "" {
		caCertPool := x509.NewCertPool()
		if caCertPool.AppendCertsFromPEM([]byte(ep.CACert)) {
			transport.TLSClientConfig = &tls.Config{RootCAs: caCertPool}
		}
	}
	username, password := ep.Username, ep.Password
	return &Client{
		baseURL:  strings.TrimSuffix(ep.BaseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Re-apply basic auth on redirects
				if len(via) > 0 && username != "" {
					req.SetBasicAuth(username, password)
				}
				return nil
			},
		},
	}
}

// BaseURL returns the instance URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload interface{}) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, &HTTPError{Method: method, Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return body, resp.StatusCode, nil
}

// Get performs an authenticated GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	body, _, err := c.do(ctx, http.MethodGet, path, params, nil)
	return body, err
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, dest interface{}) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Post performs an authenticated POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

// Delete performs an authenticated DELETE request. A 404 is treated as
// success since the object is already gone.
func (c *Client) Delete(ctx context.Context, path string, params url.Values) error {
	_, code, err := c.do(ctx, http.MethodDelete, path, params, nil)
	if code == http.StatusNotFound {
		return nil
	}
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
