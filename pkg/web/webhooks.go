package web

import (
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/dukex/flowcore/pkg/webhook"
)

// ReceiveWebhook routes any method to the webhook trigger; the receiver
// enforces the allowed methods.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	webhookID := c.Params("webhookId")

	result, err := h.services.Webhooks.Receive(c.Context(), webhookID, webhook.Request{
		Method:     c.Method(),
		URL:        c.OriginalURL(),
		RemoteAddr: c.IP(),
		Headers:    http.Header(c.GetReqHeaders()),
		Query:      c.Queries(),
		Body:       c.Body(),
	})
	if err != nil {
		h.logger.Warn("Webhook rejected", "trigger_id", webhookID, "error", err)

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}
