package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPaused is returned by Resume for executions not waiting on an approval.
	ErrNotPaused = errors.New("execution is not paused for approval")

	// ErrInvalidApprovalResult is returned by Resume for results other than approved or rejected.
	ErrInvalidApprovalResult = errors.New("invalid approval result")

	// ErrAlreadyFinished is returned when cancelling an execution in a terminal status.
	ErrAlreadyFinished = errors.New("execution already finished")

	// ErrNilGraph is returned by Start when no graph is given.
	ErrNilGraph = errors.New("workflow graph is nil")

	errFinishedElsewhere = errors.New("execution finished by another process")
)

// NodeExecutionError reports the node that stopped an execution.
type NodeExecutionError struct {
	ExecutionID string
	NodeID      string
	NodeType    string
	Err         error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed in execution %s: %v", e.NodeID, e.NodeType, e.ExecutionID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}
