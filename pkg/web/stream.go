package web

import (
	"bufio"
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/dukex/flowcore/pkg/stream"
)

// StreamExecution serves the execution status events as server-sent events.
// The stream ends with a close event once the execution is terminal.
func (h *APIHandlers) StreamExecution(c fiber.Ctx) error {
	executionID := c.Params("id")

	if _, err := h.services.Engine.Get(c.Context(), executionID); err != nil {
		if isNotFound(err) {
			return handleServiceError(c, err)
		}

		return internalError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	logger := h.logger.With("execution_id", executionID)
	producer := h.services.Stream
	done := h.services.Dispatcher.Done(executionID)

	c.Response().SetBodyStreamWriter(func(w *bufio.Writer) {
		// The request context is recycled once the handler returns.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := producer.Stream(ctx, executionID, done, func(event stream.Event) error {
			return writeEvent(w, event)
		})
		if err != nil {
			logger.Info("Execution stream ended", "error", err)
		}
	})

	return nil
}

func writeEvent(w *bufio.Writer, event stream.Event) error {
	if _, err := w.WriteString("event: " + string(event.Type) + "\ndata: "); err != nil {
		return err
	}

	if err := event.Encode(w); err != nil {
		return err
	}

	if _, err := w.WriteString("\n"); err != nil {
		return err
	}

	return w.Flush()
}
