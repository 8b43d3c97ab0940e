package graph

import (
	"errors"
	"strings"
)

// ErrInvalidGraph is wrapped by every ValidationError.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// ValidationError carries the blocking issues found in a graph.
type ValidationError struct {
	GraphID string
	Issues  []Issue
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		messages = append(messages, issue.Message)
	}

	return "invalid workflow graph " + e.GraphID + ": " + strings.Join(messages, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidGraph
}
