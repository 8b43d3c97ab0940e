package web

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/flowcore/pkg/approval"
	"github.com/dukex/flowcore/pkg/dispatch"
	"github.com/dukex/flowcore/pkg/engine"
	"github.com/dukex/flowcore/pkg/graph"
	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence"
	"github.com/dukex/flowcore/pkg/webhook"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// invalidGraph reports every blocking issue next to the problem.
func invalidGraph(c fiber.Ctx, validationErr *graph.ValidationError) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"type":     "invalid_graph",
		"title":    "Bad Request",
		"status":   fiber.StatusBadRequest,
		"detail":   validationErr.Error(),
		"instance": c.Path(),
		"issues":   validationErr.Issues,
	})
}

// handleServiceError maps domain errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var (
		validationErr *graph.ValidationError
		fieldErrs     validator.ValidationErrors
		rateErr       *dispatch.RateLimitError
		payloadErr    *webhook.PayloadError
	)

	switch {
	case errors.As(err, &validationErr):
		return invalidGraph(c, validationErr)

	case errors.As(err, &rateErr):
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(rateErr.RetryAfterSeconds))

		return problem(c, fiber.StatusTooManyRequests, "rate_limited", err.Error())

	case errors.As(err, &payloadErr), errors.Is(err, webhook.ErrInvalidPayload):
		return problem(c, fiber.StatusBadRequest, "invalid_payload", err.Error())

	case errors.As(err, &fieldErrs),
		errors.Is(err, models.ErrInvalidSchedule),
		errors.Is(err, models.ErrInvalidTimezone),
		errors.Is(err, engine.ErrInvalidApprovalResult),
		errors.Is(err, persistence.ErrInvalidID):
		return badRequest(c, err.Error())

	case errors.Is(err, webhook.ErrAuthentication):
		return problem(c, fiber.StatusUnauthorized, "unauthorized", "webhook authentication failed")

	case errors.Is(err, approval.ErrNotApprover):
		return problem(c, fiber.StatusForbidden, "not_approver", err.Error())

	case errors.Is(err, webhook.ErrMethodNotAllowed):
		return problem(c, fiber.StatusMethodNotAllowed, "method_not_allowed", err.Error())

	case persistence.IsNotFound(err),
		errors.Is(err, webhook.ErrNotWebhook),
		errors.Is(err, dispatch.ErrTriggerInactive),
		errors.Is(err, dispatch.ErrTriggerMismatch):
		return problem(c, fiber.StatusNotFound, "not_found", err.Error())

	case persistence.IsVersionConflict(err),
		errors.Is(err, engine.ErrNotPaused),
		errors.Is(err, engine.ErrAlreadyFinished),
		errors.Is(err, approval.ErrApprovalResolved),
		errors.Is(err, approval.ErrApprovalExpired):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case errors.Is(err, dispatch.ErrRetriesExhausted):
		return problem(c, fiber.StatusBadGateway, "retries_exhausted", err.Error())

	default:
		return internalError(c, err)
	}
}
