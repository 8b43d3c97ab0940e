package web

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/dukex/flowcore/pkg/dispatch"
	"github.com/dukex/flowcore/pkg/models"
)

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON")
	}

	if err := h.validator.Struct(req); err != nil {
		return handleServiceError(c, err)
	}

	if _, err := h.services.Persistence.GraphRepository().GetByWorkflowID(c.Context(), req.WorkflowID); err != nil {
		return handleServiceError(c, err)
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if req.AuthMode == "" {
		req.AuthMode = models.AuthModeNone
	}

	if req.AuthMode != models.AuthModeNone && req.Secret == "" {
		return badRequest(c, "secret is required for auth mode "+string(req.AuthMode))
	}

	now := time.Now().UTC()
	trigger := &models.TriggerDefinition{
		ID:             req.ID,
		WorkflowID:     req.WorkflowID,
		OwnerID:        req.OwnerID,
		Type:           req.Type,
		Config:         req.Config,
		Secret:         req.Secret,
		AllowedMethods: req.AllowedMethods,
		AuthMode:       req.AuthMode,
		IsActive:       req.IsActive == nil || *req.IsActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.services.Persistence.TriggerRepository().Save(c.Context(), trigger); err != nil {
		return handleServiceError(c, err)
	}

	h.services.Dispatcher.InvalidateTrigger(trigger.ID)
	h.logger.Info("Trigger saved", "trigger_id", trigger.ID, "workflow_id", trigger.WorkflowID, "type", trigger.Type)

	return c.Status(fiber.StatusCreated).JSON(trigger)
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	trigger, err := h.services.Persistence.TriggerRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.services.Persistence.TriggerRepository().Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	h.services.Dispatcher.InvalidateTrigger(id)

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetTriggerMetrics(c fiber.Ctx) error {
	return c.JSON(metricsResponse(h.services.Dispatcher.Metrics().Snapshot(c.Params("id"))))
}

func (h *APIHandlers) ListTriggerMetrics(c fiber.Ctx) error {
	all := h.services.Dispatcher.Metrics().All()

	metrics := make([]TriggerMetricsResponse, 0, len(all))
	for _, m := range all {
		metrics = append(metrics, metricsResponse(m))
	}

	return c.JSON(fiber.Map{"metrics": metrics})
}

func metricsResponse(m dispatch.TriggerMetrics) TriggerMetricsResponse {
	return TriggerMetricsResponse{
		TriggerID:         m.TriggerID,
		TotalExecutions:   m.Total,
		SuccessCount:      m.Success,
		FailureCount:      m.Failed,
		AverageDurationMS: m.AverageDuration.Milliseconds(),
		SuccessRate:       m.SuccessRate,
		LastError:         m.LastError,
		LastRunAt:         m.LastRunAt,
	}
}

func (h *APIHandlers) ListDeadLetters(c fiber.Ctx) error {
	letters, err := h.services.DeadLetters.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"dead_letters": letters, "total_count": len(letters)})
}

// ReplayDeadLetter dispatches a dead-lettered request again.
func (h *APIHandlers) ReplayDeadLetter(c fiber.Ctx) error {
	result, err := h.services.Replayer.Replay(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}
