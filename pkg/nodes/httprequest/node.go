// Package httprequest provides HTTP request node implementation for workflow graph execution.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/flowcore/pkg/template"
)

// HTTPRequestNode performs an HTTP call and exposes the response as output.
type HTTPRequestNode struct {
	id     string
	config HTTPRequestConfig
	client *http.Client
}

// HTTPRequestConfig is decoded from the node config map.
type HTTPRequestConfig struct {
	URL     string            `json:"url"     validate:"required"`
	Method  string            `json:"method"  validate:"oneof=GET POST PUT DELETE PATCH HEAD OPTIONS"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
	Timeout int               `json:"timeout" validate:"min=1,max=300"`
	Retries RetryConfig       `json:"retries"`
}

// RetryConfig controls attempts against 5xx responses. Delay is in milliseconds.
type RetryConfig struct {
	Attempts int `json:"attempts" validate:"min=1,max=10"`
	Delay    int `json:"delay"    validate:"min=0,max=30000"`
}

var validate = validator.New()

// NewHTTPRequestNode creates a new HTTP request node.
func NewHTTPRequestNode(id string, config map[string]any) (*HTTPRequestNode, error) {
	httpConfig := HTTPRequestConfig{
		Method:  http.MethodGet,
		Timeout: 30,
		Retries: RetryConfig{Attempts: 1},
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("invalid http_request config: %w", err)
	}

	if err := json.Unmarshal(raw, &httpConfig); err != nil {
		return nil, fmt.Errorf("invalid http_request config: %w", err)
	}

	httpConfig.Method = strings.ToUpper(httpConfig.Method)

	if err := validate.Struct(httpConfig); err != nil {
		return nil, fmt.Errorf("invalid http_request config: %w", err)
	}

	return &HTTPRequestNode{
		id:     id,
		config: httpConfig,
		client: &http.Client{Timeout: time.Duration(httpConfig.Timeout) * time.Second},
	}, nil
}

// ID returns the node ID.
func (n *HTTPRequestNode) ID() string {
	return n.id
}

// Type returns the node type.
func (n *HTTPRequestNode) Type() string {
	return "http_request"
}

// Execute performs the HTTP request. Client errors (4xx) are not retried.
func (n *HTTPRequestNode) Execute(ctx context.Context, input map[string]any, executionContext map[string]any) (map[string]any, error) {
	url, err := template.RenderString(n.config.URL, input, executionContext)
	if err != nil {
		return nil, fmt.Errorf("failed to render URL template: %w", err)
	}

	var body string

	if n.config.Body != "" {
		body, err = template.RenderString(n.config.Body, input, executionContext)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}
	}

	headers := make(map[string]string, len(n.config.Headers))

	for key, value := range n.config.Headers {
		rendered, err := template.RenderString(value, input, executionContext)
		if err != nil {
			rendered = value
		}

		headers[key] = rendered
	}

	var lastErr error

	for attempt := 1; attempt <= n.config.Retries.Attempts; attempt++ {
		if attempt > 1 && n.config.Retries.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(n.config.Retries.Delay) * time.Millisecond):
			}
		}

		result, err := n.performRequest(ctx, url, body, headers)
		if err == nil {
			return result, nil
		}

		lastErr = err

		httpErr := &HTTPError{}
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
			break
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("HTTP request failed after %d attempts: %w", n.config.Retries.Attempts, lastErr)
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (n *HTTPRequestNode) performRequest(ctx context.Context, url, body string, headers map[string]string) (map[string]any, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, n.config.Method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	responseHeaders := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		responseHeaders[key] = resp.Header.Get(key)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     responseHeaders,
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, nil
}
