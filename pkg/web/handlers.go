// Package web provides the HTTP handlers of the flowcore API.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/flowcore/pkg/approval"
	"github.com/dukex/flowcore/pkg/dispatch"
	"github.com/dukex/flowcore/pkg/engine"
	"github.com/dukex/flowcore/pkg/graph"
	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence"
	"github.com/dukex/flowcore/pkg/scheduler"
	"github.com/dukex/flowcore/pkg/stream"
	"github.com/dukex/flowcore/pkg/webhook"
)

// Services are the collaborators the handlers delegate to.
type Services struct {
	Persistence persistence.Persistence
	Validator   *graph.Validator
	Engine      *engine.Engine
	Dispatcher  *dispatch.Dispatcher
	Replayer    *dispatch.Replayer
	DeadLetters persistence.DeadLetterRepository
	Webhooks    *webhook.Receiver
	Approvals   *approval.Service
	Scheduler   *scheduler.Scheduler
	Stream      *stream.Producer
}

type APIHandlers struct {
	logger    *slog.Logger
	services  Services
	validator *validator.Validate
}

func NewAPIHandlers(logger *slog.Logger, services Services, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		logger:    logger.With("module", "web"),
		services:  services,
		validator: validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.services.Persistence.HealthCheck(c.Context()); err != nil {
		h.logger.Warn("Health check failed", "error", err)

		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "unhealthy",
			"message": err.Error(),
			"checkers": fiber.Map{
				"persistence": fiber.Map{"status": "unhealthy", "message": err.Error()},
			},
		})
	}

	return c.JSON(fiber.Map{
		"status":  "healthy",
		"message": "All systems operational",
		"checkers": fiber.Map{
			"persistence": fiber.Map{"status": "healthy"},
		},
		"timestamp": time.Now().UTC(),
	})
}

// SaveWorkflow validates and stores a graph. Warnings are returned but do not block the save.
func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	var workflowGraph models.WorkflowGraph
	if err := c.Bind().JSON(&workflowGraph); err != nil {
		return badRequest(c, "Invalid JSON")
	}

	if err := h.validator.Struct(workflowGraph); err != nil {
		return handleServiceError(c, err)
	}

	result := h.services.Validator.Validate(&workflowGraph)
	if err := result.Err(); err != nil {
		return handleServiceError(c, err)
	}

	if err := h.services.Persistence.GraphRepository().Save(c.Context(), &workflowGraph); err != nil {
		return handleServiceError(c, err)
	}

	h.logger.Info("Workflow graph saved", "workflow_id", workflowGraph.ID, "version", workflowGraph.Version)

	warnings := result.Warnings
	if warnings == nil {
		warnings = []graph.Issue{}
	}

	return c.Status(fiber.StatusCreated).JSON(SaveWorkflowResponse{Graph: &workflowGraph, Warnings: warnings})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflowGraph, err := h.services.Persistence.GraphRepository().GetByWorkflowID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflowGraph)
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	graphs, err := h.services.Persistence.GraphRepository().List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": graphs, "total_count": len(graphs)})
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.services.Persistence.GraphRepository().Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ValidateWorkflow reports errors and warnings without storing the graph.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	var workflowGraph models.WorkflowGraph
	if err := c.Bind().JSON(&workflowGraph); err != nil {
		return badRequest(c, "Invalid JSON")
	}

	return c.JSON(h.services.Validator.Validate(&workflowGraph))
}

// RunWorkflow dispatches a manual or API trigger for the workflow. It answers
// once the execution is stored; the execution itself runs in the background.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return handleServiceError(c, err)
	}

	if req.TriggerType == "" {
		req.TriggerType = models.TriggerTypeAPI
	}

	result, err := h.services.Dispatcher.Submit(c.Context(), dispatch.Request{
		WorkflowID:  c.Params("id"),
		TriggerType: req.TriggerType,
		Payload:     req.Input,
		UserID:      req.UserID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	record, err := h.services.Engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	records, err := h.services.Persistence.ExecutionRepository().ListByWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": records, "total_count": len(records)})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.services.Engine.Cancel(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	record, err := h.services.Engine.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func isNotFound(err error) bool {
	return errors.Is(err, persistence.ErrExecutionNotFound)
}
