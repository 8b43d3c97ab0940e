package otelhelper

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorKindKey classifies a recorded failure as cancelled, timeout or error.
const ErrorKindKey = "flowcore.error.kind"

// ErrorKind maps err to the value stored under ErrorKindKey.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// SetError marks span as failed. attrs are attached to the recorded
// exception event. A nil err leaves the span untouched.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	kind := attribute.String(ErrorKindKey, ErrorKind(err))

	span.SetAttributes(kind)
	span.RecordError(err, trace.WithAttributes(append(attrs, kind)...))
	span.SetStatus(codes.Error, err.Error())
}
