package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/flowcore/pkg/scheduler"
)

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	var req CreateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON")
	}

	if err := h.validator.Struct(req); err != nil {
		return handleServiceError(c, err)
	}

	if _, err := h.services.Persistence.GraphRepository().GetByWorkflowID(c.Context(), req.WorkflowID); err != nil {
		return handleServiceError(c, err)
	}

	schedule, err := h.services.Scheduler.CreateSchedule(c.Context(), scheduler.CreateRequest{
		WorkflowID: req.WorkflowID,
		TriggerID:  req.TriggerID,
		UserID:     req.UserID,
		CronExpr:   req.CronExpression,
		Timezone:   req.Timezone,
		Input:      req.Input,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) ListSchedules(c fiber.Ctx) error {
	schedules, err := h.services.Scheduler.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"schedules": schedules, "total_count": len(schedules)})
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	schedule, err := h.services.Scheduler.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) PauseSchedule(c fiber.Ctx) error {
	schedule, err := h.services.Scheduler.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) ResumeSchedule(c fiber.Ctx) error {
	schedule, err := h.services.Scheduler.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) DeleteSchedule(c fiber.Ctx) error {
	if err := h.services.Scheduler.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
