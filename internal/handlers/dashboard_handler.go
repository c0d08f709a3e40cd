package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mockbtc/backend/internal/services"
)

type DashboardHandler struct {
	service *services.DashboardService
}

func NewDashboardHandler(service *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Dashboard returns the caller's balance summary and valuation history
// @Summary My dashboard
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SuccessResponse{data=models.DashboardData}
// @Router /dashboard [get]
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	data, err := h.service.Dashboard(r.Context(), p)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, data, "")
}

// UserDashboard returns any user's dashboard
// @Summary User dashboard
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} SuccessResponse{data=models.DashboardData}
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/users/{userId}/dashboard [get]
func (h *DashboardHandler) UserDashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	data, err := h.service.UserDashboard(r.Context(), p, chi.URLParam(r, "userId"))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, data, "")
}

// AdminOverview summarises the approval queue
// @Summary Admin dashboard
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SuccessResponse{data=models.AdminOverview}
// @Router /admin/dashboard [get]
func (h *DashboardHandler) AdminOverview(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	overview, err := h.service.AdminOverview(r.Context(), p)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, overview, "")
}
