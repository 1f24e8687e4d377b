package handler

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipreel/api/internal/middleware"
	"github.com/clipreel/api/internal/model"
	"github.com/clipreel/api/internal/service"
	"github.com/clipreel/api/internal/store"
	"github.com/clipreel/api/pkg/response"
)

const maxUploadSize = 200 * 1024 * 1024 // 200MB

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

type uploadClipForm struct {
	CapturedAt string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type listClipsQuery struct {
	Week string `validate:"omitempty,weekbucket"`
}

// Upload handles POST /api/clips: accepts one video file and queues
// background analysis. Returns the poll-able upload job.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 200MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	contentType := file.Header.Get("Content-Type")
	if !model.ValidVideoTypes[contentType] {
		return response.ValidationError(c, "Invalid file type. Supported: MP4, MOV, WebM, MKV", map[string]interface{}{
			"contentType": contentType,
		})
	}

	// capturedAt decides the week bucket; default to upload time.
	form := uploadClipForm{CapturedAt: c.FormValue("capturedAt")}
	if err := h.validator.Struct(&form); err != nil {
		return response.ValidationError(c, "capturedAt must be RFC3339", nil)
	}
	capturedAt := time.Now()
	if form.CapturedAt != "" {
		capturedAt, _ = time.Parse(time.RFC3339, form.CapturedAt)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.AcceptClip(c.Context(), userID, file.Filename, contentType, f, capturedAt)
	if err != nil {
		if errors.Is(err, service.ErrWeeklyQuotaExceeded) {
			return response.QuotaExceeded(c, "Weekly upload quota exceeded")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/clips/status/:jobId
func (h *UploadHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetStatus(c.Context(), jobID, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Upload job not found")
		}
		if errors.Is(err, service.ErrNotOwner) {
			return response.Forbidden(c, "Upload job belongs to another user")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}

// List handles GET /api/clips (optionally ?week=2026-W34)
func (h *UploadHandler) List(c *fiber.Ctx) error {
	query := listClipsQuery{Week: c.Query("week")}
	if err := h.validator.Struct(&query); err != nil {
		return response.ValidationError(c, "week must look like 2026-W34", nil)
	}

	result, err := h.service.ListClips(c.Context(), middleware.GetUserID(c), query.Week)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Delete handles DELETE /api/clips/:clipId
func (h *UploadHandler) Delete(c *fiber.Ctx) error {
	clipID := c.Params("clipId")
	if clipID == "" {
		return response.ValidationError(c, "Clip ID is required", nil)
	}

	if err := h.service.DeleteClip(c.Context(), middleware.GetUserID(c), clipID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Clip not found")
		}
		if errors.Is(err, service.ErrNotOwner) {
			return response.Forbidden(c, "Clip belongs to another user")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}
