package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dukex/flowcore/pkg/models"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderSignature     = "X-Webhook-Signature"

	bearerPrefix    = "Bearer "
	signaturePrefix = "sha256="
)

// ErrAuthentication is returned for any credential failure. The cause is
// kept out of the message so callers cannot tell which check failed.
var ErrAuthentication = errors.New("webhook authentication failed")

// CanonicalJSON encodes payload compactly with object keys sorted and without
// HTML escaping, the form signatures are computed over. json.Number values
// keep their original digits.
func CanonicalJSON(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(payload); err != nil {
		return nil, fmt.Errorf("failed to encode canonical payload: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sign returns the hex HMAC-SHA256 of the canonical payload keyed by secret.
func Sign(secret string, payload map[string]any) (string, error) {
	data, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Authenticate checks the request credentials required by the trigger auth mode.
func Authenticate(trigger *models.TriggerDefinition, headers http.Header, payload map[string]any) error {
	switch trigger.AuthMode {
	case "", models.AuthModeNone:
		return nil
	case models.AuthModeBearer:
		return authenticateBearer(trigger.Secret, headers.Get(HeaderAuthorization))
	case models.AuthModeHMACSHA256:
		return authenticateSignature(trigger.Secret, headers.Get(HeaderSignature), payload)
	default:
		return fmt.Errorf("%w: unsupported auth mode", ErrAuthentication)
	}
}

func authenticateBearer(secret, header string) error {
	if secret == "" || !strings.HasPrefix(header, bearerPrefix) {
		return ErrAuthentication
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))

	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return ErrAuthentication
	}

	return nil
}

func authenticateSignature(secret, header string, payload map[string]any) error {
	if secret == "" || header == "" {
		return ErrAuthentication
	}

	given, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix))
	if err != nil {
		return ErrAuthentication
	}

	data, err := CanonicalJSON(payload)
	if err != nil {
		return ErrAuthentication
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)

	if !hmac.Equal(given, mac.Sum(nil)) {
		return ErrAuthentication
	}

	return nil
}
