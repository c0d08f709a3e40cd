package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mockbtc/backend/internal/models"
	"github.com/mockbtc/backend/internal/services"
	"github.com/shopspring/decimal"
)

type MarketRateHandler struct {
	service   *services.MarketRateService
	validator *services.ValidationHelper
}

func NewMarketRateHandler(service *services.MarketRateService) *MarketRateHandler {
	return &MarketRateHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// rateRequest is either one rate or, when rates is present, a bulk upload
type rateRequest struct {
	Timestamp  string             `json:"timestamp"`
	BTCJPYRate decimal.Decimal    `json:"btc_jpy_rate"`
	Rates      []models.RateInput `json:"rates"`
}

// CreateRates stores one rate or a list of rates
// @Summary Create market rates
// @Description Send timestamp and btc_jpy_rate for one rate, or a rates array for a bulk upload. Bulk uploads report duplicates and bad entries instead of failing.
// @Tags MarketRates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body rateRequest true "Rate or rates"
// @Success 201 {object} SuccessResponse{data=models.MarketRate}
// @Success 200 {object} SuccessResponse{data=models.BulkRateResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/market-rates [post]
func (h *MarketRateHandler) CreateRates(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req rateRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	if req.Rates != nil {
		result, err := h.service.BulkCreate(r.Context(), p, req.Rates)
		if err != nil {
			services.SendAppError(w, err)
			return
		}
		sendSuccess(w, http.StatusOK, result, result.Message)
		return
	}

	rate, err := h.service.Create(r.Context(), p, models.RateInput{Timestamp: req.Timestamp, BTCJPYRate: req.BTCJPYRate})
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusCreated, rate, "Market rate created")
}

// UpdateRate replaces a rate's timestamp and value
// @Summary Update a market rate
// @Tags MarketRates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param rateId path string true "Rate ID"
// @Param request body models.RateInput true "Rate"
// @Success 200 {object} SuccessResponse{data=models.MarketRate}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/market-rates/{rateId} [put]
func (h *MarketRateHandler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req models.RateInput
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	rate, err := h.service.Update(r.Context(), p, chi.URLParam(r, "rateId"), req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, rate, "Market rate updated")
}

// GetRate loads one rate
// @Summary Get a market rate
// @Tags MarketRates
// @Produce json
// @Security BearerAuth
// @Param rateId path string true "Rate ID"
// @Success 200 {object} SuccessResponse{data=models.MarketRate}
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/market-rates/{rateId} [get]
func (h *MarketRateHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	rate, err := h.service.Get(r.Context(), p, chi.URLParam(r, "rateId"))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, rate, "")
}

// ListRates pages rates newest first
// @Summary List market rates
// @Tags MarketRates
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page, 1-based"
// @Param limit query int false "Page size, at most 100"
// @Success 200 {object} SuccessResponse{data=models.Page[models.MarketRate]}
// @Router /market-rates [get]
func (h *MarketRateHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	page, err := h.service.List(r.Context(), p, queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, page, "")
}

// LatestRate returns the most recent rate
// @Summary Latest market rate
// @Tags MarketRates
// @Produce json
// @Success 200 {object} SuccessResponse{data=models.MarketRate}
// @Router /market-rates/latest [get]
func (h *MarketRateHandler) LatestRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.service.Latest(r.Context())
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	if rate == nil {
		sendSuccess(w, http.StatusOK, []models.MarketRate{}, "No market rates found")
		return
	}
	sendSuccess(w, http.StatusOK, rate, "")
}
