package models

import (
	"net/http"
	"slices"
	"strings"
	"time"
)

// TriggerType identifies what starts an execution.
type TriggerType string

const (
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeAPI      TriggerType = "api"
	TriggerTypeChat     TriggerType = "chat"
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeEvent    TriggerType = "event"
)

// AuthMode selects how inbound webhook requests are authenticated.
type AuthMode string

const (
	AuthModeNone       AuthMode = "none"
	AuthModeBearer     AuthMode = "bearer"
	AuthModeHMACSHA256 AuthMode = "hmac-sha256"
)

// TriggerDefinition binds an external event source to a workflow.
type TriggerDefinition struct {
	ID             string         `json:"id"                        validate:"required"`
	WorkflowID     string         `json:"workflow_id"               validate:"required"`
	OwnerID        string         `json:"owner_id,omitempty"`
	Type           TriggerType    `json:"type"                      validate:"required,oneof=webhook schedule api chat manual event"`
	Config         map[string]any `json:"config,omitempty"`
	Secret         string         `json:"secret,omitempty"`
	AllowedMethods []string       `json:"allowed_methods,omitempty"`
	AuthMode       AuthMode       `json:"auth_mode,omitempty"       validate:"omitempty,oneof=none bearer hmac-sha256"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AllowsMethod reports whether the HTTP method may fire this trigger. POST is
// the only method allowed when none are configured.
func (t *TriggerDefinition) AllowsMethod(method string) bool {
	if len(t.AllowedMethods) == 0 {
		return strings.EqualFold(method, http.MethodPost)
	}

	return slices.ContainsFunc(t.AllowedMethods, func(allowed string) bool {
		return strings.EqualFold(allowed, method)
	})
}

// JSONSchema returns the payload schema configured under config.json_schema, if any.
func (t *TriggerDefinition) JSONSchema() map[string]any {
	schema, _ := t.Config["json_schema"].(map[string]any)

	return schema
}
