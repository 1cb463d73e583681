package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is the outcome of a request that reached the server. Non-2xx
// statuses are reported here rather than as errors so callers can inspect them.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}

// APIClient talks to the Lexia backend API.
type APIClient struct {
	httpClient     HTTPClient
	defaultHeaders map[string]string
	logger         *log.Logger
}

// NewAPIClient constructs a client. defaultHeaders are sent with every request
// unless the caller overrides a key.
func NewAPIClient(httpClient HTTPClient, defaultHeaders map[string]string) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range defaultHeaders {
		headers[k] = v
	}
	return &APIClient{
		httpClient:     httpClient,
		defaultHeaders: headers,
		logger:         log.New(log.Writer(), "[lexia/api] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the client logger.
func (c *APIClient) SetLogger(logger *log.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// DefaultHeaders returns a copy of the headers sent with every request.
func (c *APIClient) DefaultHeaders() map[string]string {
	out := make(map[string]string, len(c.defaultHeaders))
	for k, v := range c.defaultHeaders {
		out[k] = v
	}
	return out
}

// Post sends payload as JSON.
func (c *APIClient) Post(ctx context.Context, endpoint string, payload any, headers map[string]string) (*Response, error) {
	return c.doJSON(ctx, http.MethodPost, endpoint, payload, headers)
}

// Put sends payload as JSON.
func (c *APIClient) Put(ctx context.Context, endpoint string, payload any, headers map[string]string) (*Response, error) {
	return c.doJSON(ctx, http.MethodPut, endpoint, payload, headers)
}

// Get issues a GET with params encoded into the query string.
func (c *APIClient) Get(ctx context.Context, endpoint string, params map[string]string, headers map[string]string) (*Response, error) {
	if len(params) > 0 {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}
	return c.doJSON(ctx, http.MethodGet, endpoint, nil, headers)
}

// Delete issues a DELETE.
func (c *APIClient) Delete(ctx context.Context, endpoint string, headers map[string]string) (*Response, error) {
	return c.doJSON(ctx, http.MethodDelete, endpoint, nil, headers)
}

func (c *APIClient) doJSON(ctx context.Context, method, endpoint string, payload any, headers map[string]string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", method, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	for k, v := range c.defaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Printf("%s %s failed after %v: %v", method, endpoint, time.Since(start), err)
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	c.logger.Printf("%s %s -> %d (%v)", method, endpoint, resp.StatusCode, time.Since(start))
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
