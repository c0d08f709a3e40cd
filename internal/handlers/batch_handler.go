package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mockbtc/backend/internal/services"
)

type BatchHandler struct {
	service   *services.BatchAdjustmentService
	validator *services.ValidationHelper
}

func NewBatchHandler(service *services.BatchAdjustmentService) *BatchHandler {
	return &BatchHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// ExecuteBatch adjusts every active user's balance by a percentage
// @Summary Run a batch adjustment
// @Description Applies adjustment_rate percent of each active user's balance as an asset_management entry.
// @Tags Batch
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.BatchInput true "Adjustment"
// @Success 200 {object} SuccessResponse{data=models.BatchResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/batch-operations [post]
func (h *BatchHandler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.BatchInput
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.Execute(r.Context(), p, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, result, "Batch operation "+string(result.Status))
}

// ListBatches pages batch operations
// @Summary List batch operations
// @Tags Batch
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, processing, completed or failed"
// @Param limit query int false "Page size, at most 100"
// @Param offset query int false "Offset"
// @Success 200 {object} SuccessResponse{data=models.Page[models.BatchOperation]}
// @Router /admin/batch-operations [get]
func (h *BatchHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	page, err := h.service.List(r.Context(), p, r.URL.Query().Get("status"),
		queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, page, "")
}

// GetBatch loads one batch operation
// @Summary Get a batch operation
// @Tags Batch
// @Produce json
// @Security BearerAuth
// @Param batchId path string true "Batch ID"
// @Success 200 {object} SuccessResponse{data=models.BatchOperation}
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/batch-operations/{batchId} [get]
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	op, err := h.service.Get(r.Context(), p, chi.URLParam(r, "batchId"))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, op, "")
}

// ResumeBatch reruns an unfinished batch for the users it has not reached
// @Summary Resume a batch operation
// @Tags Batch
// @Produce json
// @Security BearerAuth
// @Param batchId path string true "Batch ID"
// @Success 200 {object} SuccessResponse{data=models.BatchResult}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/batch-operations/{batchId}/resume [post]
func (h *BatchHandler) ResumeBatch(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	result, err := h.service.Resume(r.Context(), p, chi.URLParam(r, "batchId"))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, result, "Batch operation "+string(result.Status))
}
