package httprequest

import (
	"context"
	"net/http"

	"github.com/dukex/flowcore/pkg/protocol"
)

// HTTPRequestNodeFactory creates HTTPRequestNode instances.
type HTTPRequestNodeFactory struct{}

// NewHTTPRequestNodeFactory creates a new HTTP request node factory.
func NewHTTPRequestNodeFactory() protocol.NodeFactory {
	return &HTTPRequestNodeFactory{}
}

// Create creates a new HTTPRequestNode instance.
func (f *HTTPRequestNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewHTTPRequestNode(id, config)
}

// ID returns the factory ID.
func (f *HTTPRequestNodeFactory) ID() string {
	return "http_request"
}

// Name returns the factory name.
func (f *HTTPRequestNodeFactory) Name() string {
	return "HTTP Request"
}

// Description returns the factory description.
func (f *HTTPRequestNodeFactory) Description() string {
	return "Performs HTTP requests with retry logic and exposes the response as node output"
}

// Schema mirrors the limits enforced by HTTPRequestConfig.
func (f *HTTPRequestNodeFactory) Schema() map[string]any {
	templated := "Rendered with .input and .context before the request"

	return map[string]any{
		"type":     "object",
		"required": []string{"url"},
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "description": templated},
			"method":  map[string]any{"type": "string", "default": http.MethodGet, "enum": []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}},
			"headers": map[string]any{"type": "object", "description": templated},
			"body":    map[string]any{"type": "string", "description": templated},
			"timeout": map[string]any{"type": "integer", "default": 30, "minimum": 1, "maximum": 300},
			"retries": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "integer", "default": 1, "minimum": 1, "maximum": 10},
					"delay":    map[string]any{"type": "integer", "description": "Milliseconds between attempts", "minimum": 0, "maximum": 30000},
				},
			},
		},
	}
}
