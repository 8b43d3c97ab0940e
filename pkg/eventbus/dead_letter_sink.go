package eventbus

import (
	"context"

	"github.com/dukex/flowcore/pkg/events"
	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence"
)

// DeadLetterPublisher forwards dead letters to the event bus, optionally
// after storing them in another sink.
type DeadLetterPublisher struct {
	publisher EventPublisher
	next      persistence.DeadLetterSink
}

// NewDeadLetterPublisher creates a sink that publishes every letter. next may be nil.
func NewDeadLetterPublisher(publisher EventPublisher, next persistence.DeadLetterSink) *DeadLetterPublisher {
	return &DeadLetterPublisher{publisher: publisher, next: next}
}

func (p *DeadLetterPublisher) Push(ctx context.Context, letter *models.DeadLetter) error {
	if p.next != nil {
		if err := p.next.Push(ctx, letter); err != nil {
			return err
		}
	}

	return p.publisher.Publish(ctx, letter.WorkflowID, events.TriggerDeadLettered{
		BaseEvent:  events.NewBaseEvent(events.TriggerDeadLetteredEvent, letter.WorkflowID),
		DeadLetter: letter,
	})
}
