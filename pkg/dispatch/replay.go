package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowcore/pkg/persistence"
)

// Replayer re-dispatches dead letters kept in a repository.
type Replayer struct {
	dispatcher  *Dispatcher
	deadLetters persistence.DeadLetterRepository
}

func NewReplayer(dispatcher *Dispatcher, deadLetters persistence.DeadLetterRepository) *Replayer {
	return &Replayer{dispatcher: dispatcher, deadLetters: deadLetters}
}

// Replay dispatches the stored request again. The entry is removed when the
// dispatch succeeds or when it failed again and a fresh entry replaced it.
func (r *Replayer) Replay(ctx context.Context, deadLetterID string) (*Result, error) {
	letter, err := r.deadLetters.GetByID(ctx, deadLetterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letter %s: %w", deadLetterID, err)
	}

	r.dispatcher.logger.InfoContext(ctx, "Replaying dead letter",
		"dead_letter_id", letter.ID, "workflow_id", letter.WorkflowID, "trigger_id", letter.TriggerID)

	result, dispatchErr := r.dispatcher.Dispatch(ctx, Request{
		WorkflowID:  letter.WorkflowID,
		TriggerID:   letter.TriggerID,
		TriggerType: letter.TriggerType,
		Payload:     letter.Payload,
		UserID:      letter.UserID,
	})

	var exhausted *RetriesExhaustedError
	if dispatchErr != nil && (!errors.As(dispatchErr, &exhausted) || exhausted.DeadLetterID == "") {
		return nil, dispatchErr
	}

	if err := r.deadLetters.Delete(ctx, letter.ID); err != nil {
		return result, errors.Join(dispatchErr, fmt.Errorf("failed to delete dead letter %s: %w", letter.ID, err))
	}

	return result, dispatchErr
}
