// Package webhook authenticates inbound webhook calls, validates their
// payload and hands them to the dispatcher.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/flowcore/pkg/dispatch"
	"github.com/dukex/flowcore/pkg/models"
)

// MaxBodySize bounds the accepted request body.
const MaxBodySize = 1 << 20

var (
	// ErrMethodNotAllowed indicates a method outside the trigger's allowed methods.
	ErrMethodNotAllowed = errors.New("method not allowed for webhook")

	// ErrNotWebhook indicates a trigger id that belongs to another trigger type.
	ErrNotWebhook = errors.New("trigger is not a webhook")

	// ErrInvalidPayload is wrapped by every PayloadError.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// PayloadError reports a body that is not JSON or fails the trigger schema.
type PayloadError struct {
	Reasons []string
}

func (e *PayloadError) Error() string {
	return "invalid webhook payload: " + strings.Join(e.Reasons, "; ")
}

func (e *PayloadError) Unwrap() error {
	return ErrInvalidPayload
}

// TriggerSource resolves trigger definitions.
type TriggerSource interface {
	Trigger(ctx context.Context, triggerID string) (*models.TriggerDefinition, error)
}

// Dispatcher starts executions.
type Dispatcher interface {
	Submit(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Request is the transport independent view of an inbound call.
type Request struct {
	Method     string
	URL        string
	RemoteAddr string
	Headers    http.Header
	Query      map[string]string
	Body       []byte
}

type Receiver struct {
	logger     *slog.Logger
	triggers   TriggerSource
	dispatcher Dispatcher
	now        func() time.Time
}

func NewReceiver(logger *slog.Logger, triggers TriggerSource, dispatcher Dispatcher) *Receiver {
	return &Receiver{
		logger:     logger.With("module", "webhook"),
		triggers:   triggers,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// Receive authenticates and validates req against the webhook trigger and
// dispatches it. The execution input carries the decoded body under "body"
// and request metadata under "webhook".
func (r *Receiver) Receive(ctx context.Context, webhookID string, req Request) (*dispatch.Result, error) {
	logger := r.logger.With("trigger_id", webhookID)

	trigger, err := r.triggers.Trigger(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	if trigger.Type != models.TriggerTypeWebhook {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotWebhook, webhookID, trigger.Type)
	}

	if !trigger.IsActive {
		return nil, fmt.Errorf("%w: %s", dispatch.ErrTriggerInactive, webhookID)
	}

	if !trigger.AllowsMethod(req.Method) {
		logger.WarnContext(ctx, "Webhook called with disallowed method", "method", req.Method)

		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.Method)
	}

	payload, err := decodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	if req.Headers == nil {
		req.Headers = http.Header{}
	}

	if err := Authenticate(trigger, req.Headers, payload); err != nil {
		logger.WarnContext(ctx, "Webhook authentication failed", "remote_addr", req.RemoteAddr, "auth_mode", trigger.AuthMode)

		return nil, err
	}

	payload = normalizeNumbers(payload).(map[string]any)

	if schema := trigger.JSONSchema(); schema != nil {
		if err := validateSchema(schema, payload); err != nil {
			logger.WarnContext(ctx, "Webhook payload rejected by schema", "error", err)

			return nil, err
		}
	}

	result, err := r.dispatcher.Submit(ctx, dispatch.Request{
		WorkflowID:  trigger.WorkflowID,
		TriggerID:   trigger.ID,
		TriggerType: models.TriggerTypeWebhook,
		Payload:     r.enrich(payload, req),
		UserID:      trigger.OwnerID,
	})
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Webhook processed",
		"execution_id", result.ExecutionID, "remote_addr", req.RemoteAddr, "content_length", len(req.Body))

	return result, nil
}

func decodeBody(body []byte) (map[string]any, error) {
	if len(body) > MaxBodySize {
		return nil, &PayloadError{Reasons: []string{"body exceeds size limit"}}
	}

	payload := map[string]any{}

	if len(strings.TrimSpace(string(body))) == 0 {
		return payload, nil
	}

	// Numbers stay json.Number until the signature is checked so large
	// integers are re-encoded with their original digits.
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	if err := decoder.Decode(&payload); err != nil || payload == nil {
		return nil, &PayloadError{Reasons: []string{"body must be a JSON object"}}
	}

	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, &PayloadError{Reasons: []string{"body must hold a single JSON object"}}
	}

	return payload, nil
}

// normalizeNumbers replaces json.Number with int64 when the value is an
// integer that fits and float64 otherwise.
func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeNumbers(item)
		}

		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}

		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}

		f, _ := v.Float64()

		return f
	default:
		return value
	}
}

func validateSchema(schema map[string]any, payload map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return &PayloadError{Reasons: []string{fmt.Sprintf("invalid schema: %v", err)}}
	}

	if result.Valid() {
		return nil
	}

	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}

	return &PayloadError{Reasons: reasons}
}

func (r *Receiver) enrich(payload map[string]any, req Request) map[string]any {
	headers := make(map[string]any, len(req.Headers))

	for name, values := range req.Headers {
		if strings.EqualFold(name, HeaderAuthorization) || strings.EqualFold(name, HeaderSignature) {
			continue
		}

		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}

	query := make(map[string]any, len(req.Query))
	for key, value := range req.Query {
		query[key] = value
	}

	return map[string]any{
		"body": payload,
		"webhook": map[string]any{
			"method":       req.Method,
			"url":          req.URL,
			"remote_addr":  req.RemoteAddr,
			"headers":      headers,
			"query_params": query,
			"timestamp":    r.now().UTC().Format(time.RFC3339),
		},
	}
}
