package web

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/dukex/flowcore/pkg/models"
)

func (h *APIHandlers) ListPendingApprovals(c fiber.Ctx) error {
	requests, err := h.services.Approvals.ListPending(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": requests, "total_count": len(requests)})
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	request, err := h.services.Approvals.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) ApproveApproval(c fiber.Ctx) error {
	return h.resolveApproval(c, h.services.Approvals.Approve)
}

func (h *APIHandlers) RejectApproval(c fiber.Ctx) error {
	return h.resolveApproval(c, h.services.Approvals.Reject)
}

type resolveFunc func(ctx context.Context, approvalID, approver, comment string) (*models.ApprovalRequest, error)

func (h *APIHandlers) resolveApproval(c fiber.Ctx, resolve resolveFunc) error {
	var req ResolveApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON")
	}

	if err := h.validator.Struct(req); err != nil {
		return handleServiceError(c, err)
	}

	request, err := resolve(c.Context(), c.Params("id"), req.Approver, req.Comment)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(request)
}
