// Package template renders text/template strings against node input and execution context.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// RenderWithContext renders a template with the node input exposed as .input
// and the execution context as .context.
func RenderWithContext(input string, nodeInput, executionContext map[string]any) (any, error) {
	data := map[string]any{
		"input":   nodeInput,
		"context": executionContext,
	}

	return Render(input, data)
}

// RenderString renders a template and formats the result as a string.
func RenderString(input string, nodeInput, executionContext map[string]any) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	rendered, err := RenderWithContext(input, nodeInput, executionContext)
	if err != nil {
		return "", err
	}

	switch v := rendered.(type) {
	case string:
		return v, nil
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode rendered template: %w", err)
		}

		return string(encoded), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Render executes the template and coerces JSON, numeric and boolean output
// into the matching Go values.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("transform").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}
				num := make([]byte, 1)
				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
			"json": func(v any) (string, error) {
				encoded, err := json.Marshal(v)

				return string(encoded), err
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
