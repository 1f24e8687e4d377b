package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipreel/api/internal/middleware"
	"github.com/clipreel/api/internal/service"
	"github.com/clipreel/api/internal/store"
	"github.com/clipreel/api/pkg/response"
)

type MontageHandler struct {
	service   *service.MontageService
	validator *validator.Validate
}

func NewMontageHandler(svc *service.MontageService, v *validator.Validate) *MontageHandler {
	return &MontageHandler{
		service:   svc,
		validator: v,
	}
}

type montageRunRequest struct {
	Week string `json:"week" validate:"omitempty,weekbucket"`
}

// Run handles POST /api/montage/run: creates the job and queues assembly.
// The body is optional; {"week":"2026-W34"} rebuilds a past week. The
// response is a 202 with the job id; clients poll or subscribe for the
// outcome.
func (h *MontageHandler) Run(c *fiber.Ctx) error {
	var req montageRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		if err := h.validator.Struct(&req); err != nil {
			return response.ValidationError(c, "week must look like 2026-W34", nil)
		}
	}

	result, err := h.service.StartMontage(c.Context(), middleware.GetUserID(c), req.Week)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/montage/status/:jobId
func (h *MontageHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetStatus(c.Context(), jobID, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Montage job not found")
		}
		if errors.Is(err, service.ErrNotOwner) {
			return response.Forbidden(c, "Montage job belongs to another user")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}
