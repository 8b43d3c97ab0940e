package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/flowcore/pkg/engine"
	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/otelhelper"
)

// Submit dispatches req in the background and returns as soon as the first
// execution is persisted, with that execution's id and status. Validation,
// rate limiting and graph loading fail synchronously. When no execution is
// ever persisted Submit waits for the attempts to end and reports their
// outcome as Dispatch would.
//
// The attempts run on the dispatcher's own context. ctx only bounds how long
// Submit waits; the work keeps going after ctx ends until Shutdown.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (*Result, error) {
	if err := d.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid dispatch request: %w", err)
	}

	spanCtx, span := d.startSpan(context.WithoutCancel(ctx), "dispatch.submit", req)

	plan, err := d.prepare(spanCtx, span, req)
	if err != nil {
		span.End()

		return nil, err
	}

	created := make(chan *models.ExecutionRecord, 1)
	finished := make(chan struct{})

	var (
		result    *Result
		resultErr error
	)

	runCtx := engine.WithCreated(trace.ContextWithSpan(d.background, span), func(record *models.ExecutionRecord) {
		d.running.watch(record.ID)

		select {
		case created <- record:
		default:
		}
	})

	d.tasks.Add(1)

	go func() {
		defer d.tasks.Done()
		defer span.End()
		defer close(finished)

		result, resultErr = d.attempt(runCtx, span, plan.logger, plan.key, plan.graph, req)
		if resultErr != nil {
			otelhelper.SetError(span, resultErr)
		}
	}()

	pending := func(record *models.ExecutionRecord) *Result {
		return &Result{
			ExecutionID: record.ID,
			WorkflowID:  plan.graph.ID,
			Status:      record.Status,
			Attempts:    1,
			Record:      record,
		}
	}

	select {
	case record := <-created:
		return pending(record), nil
	case <-finished:
		select {
		case record := <-created:
			return pending(record), nil
		default:
			return result, resultErr
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed once the background dispatch running the
// execution stops with the execution in a terminal status. It is nil when
// this process runs no such dispatch.
func (d *Dispatcher) Done(executionID string) <-chan struct{} {
	return d.running.done(executionID)
}

// Shutdown waits for background dispatches. When ctx ends first their
// executions are cancelled and Shutdown returns ctx.Err() once they stopped.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	idle := make(chan struct{})

	go func() {
		d.tasks.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		d.logger.WarnContext(ctx, "Cancelling background dispatches")
		d.stop()
		<-idle

		return ctx.Err()
	}
}

// completions tracks the executions started by background dispatches.
type completions struct {
	mu      sync.Mutex
	running map[string]chan struct{}
}

func newCompletions() *completions {
	return &completions{running: map[string]chan struct{}{}}
}

func (c *completions) watch(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.running[executionID]; !ok {
		c.running[executionID] = make(chan struct{})
	}
}

func (c *completions) done(executionID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.running[executionID]; ok {
		return ch
	}

	return nil
}

// settle forgets the execution once its Start returned. Waiters are released
// only for a terminal status; a paused execution is resumed elsewhere.
func (c *completions) settle(record *models.ExecutionRecord) {
	if record == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.running[record.ID]
	if !ok {
		return
	}

	delete(c.running, record.ID)

	if record.Status.IsTerminal() {
		close(ch)
	}
}
