package web

import "github.com/gofiber/fiber/v3"

// Register mounts every API route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.All("/webhooks/:webhookId", h.ReceiveWebhook)

	w := router.Group("/workflows")
	w.Get("/", h.ListWorkflows)
	w.Post("/", h.SaveWorkflow)
	w.Post("/validate", h.ValidateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/run", h.RunWorkflow)
	w.Get("/:id/executions", h.ListExecutions)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)
	e.Get("/:id/stream", h.StreamExecution)

	a := router.Group("/approvals")
	a.Get("/", h.ListPendingApprovals)
	a.Get("/:id", h.GetApproval)
	a.Post("/:id/approve", h.ApproveApproval)
	a.Post("/:id/reject", h.RejectApproval)

	s := router.Group("/schedules")
	s.Get("/", h.ListSchedules)
	s.Post("/", h.CreateSchedule)
	s.Get("/:id", h.GetSchedule)
	s.Delete("/:id", h.DeleteSchedule)
	s.Post("/:id/pause", h.PauseSchedule)
	s.Post("/:id/resume", h.ResumeSchedule)

	t := router.Group("/triggers")
	t.Post("/", h.CreateTrigger)
	t.Get("/metrics", h.ListTriggerMetrics)
	t.Get("/:id", h.GetTrigger)
	t.Delete("/:id", h.DeleteTrigger)
	t.Get("/:id/metrics", h.GetTriggerMetrics)

	d := router.Group("/dead-letters")
	d.Get("/", h.ListDeadLetters)
	d.Post("/:id/replay", h.ReplayDeadLetter)

	router.Get("/health", h.HealthCheck)
}
