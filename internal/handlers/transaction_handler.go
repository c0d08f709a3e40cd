package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mockbtc/backend/internal/services"
)

type TransactionHandler struct {
	requests  *services.TransactionRequestService
	admin     *services.AdminTransactionService
	validator *services.ValidationHelper
}

func NewTransactionHandler(requests *services.TransactionRequestService, admin *services.AdminTransactionService) *TransactionHandler {
	return &TransactionHandler{
		requests:  requests,
		admin:     admin,
		validator: services.NewValidationHelper(),
	}
}

// RequestTransaction submits a deposit or withdrawal for approval
// @Summary Request a transaction
// @Description Submit a deposit or withdrawal request. It stays pending until an administrator decides it.
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.RequestInput true "Transaction request"
// @Success 201 {object} SuccessResponse{data=models.TransactionRequestResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /transactions/request [post]
func (h *TransactionHandler) RequestTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.RequestInput
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.requests.Request(r.Context(), p, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusCreated, result, "Transaction request submitted")
}

// ListMyRequests lists the caller's own transactions
// @Summary List my transaction requests
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved, rejected or all"
// @Param type query string false "deposit, withdrawal, asset_management or all"
// @Param page query int false "Page, 1-based"
// @Param limit query int false "Page size, at most 50"
// @Success 200 {object} SuccessResponse{data=models.Page[models.Transaction]}
// @Failure 400 {object} services.ErrorResponse
// @Router /transaction-requests [get]
func (h *TransactionHandler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, err := h.requests.ListMyRequests(r.Context(), p, services.RequestQuery{
		Status: q.Get("status"),
		Type:   q.Get("type"),
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 0),
	})
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, page, "")
}

// ListMyTransactions lists the caller's ledger, newest first
// @Summary List my transactions
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param transaction_type query string false "deposit or withdrawal"
// @Param page query int false "Page, 1-based"
// @Param limit query int false "Page size, at most 100"
// @Success 200 {object} SuccessResponse{data=models.Page[models.TransactionWithUser]}
// @Failure 403 {object} services.ErrorResponse
// @Router /transactions [get]
func (h *TransactionHandler) ListMyTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	page, err := h.requests.ListMyTransactions(r.Context(), p, r.URL.Query().Get("transaction_type"),
		queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, page, "")
}

// ListRequestsByStatus is the approval queue
// @Summary List transaction requests by status
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Defaults to pending"
// @Param page query int false "Page, 1-based"
// @Param limit query int false "Page size, at most 50"
// @Success 200 {object} SuccessResponse{data=models.Page[models.TransactionWithUser]}
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/transaction-requests [get]
func (h *TransactionHandler) ListRequestsByStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	page, err := h.requests.ListRequestsByStatus(r.Context(), p, r.URL.Query().Get("status"),
		queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, page, "")
}

// DecideTransaction approves or rejects a pending request
// @Summary Approve or reject a request
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param transactionId path string true "Transaction ID"
// @Param request body services.DecisionInput true "Decision"
// @Success 200 {object} SuccessResponse{data=models.DecisionResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/transactions/{transactionId}/status [patch]
func (h *TransactionHandler) DecideTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.DecisionInput
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.requests.Decide(r.Context(), p, chi.URLParam(r, "transactionId"), req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, result, "Transaction "+string(result.Status))
}

// CreateTransaction records an approved transaction directly
// @Summary Create a transaction as administrator
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.AdminCreateInput true "Transaction"
// @Success 201 {object} SuccessResponse{data=models.AdminTransactionResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/transactions [post]
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req services.AdminCreateInput
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.admin.Create(r.Context(), p, req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusCreated, result, "Transaction created")
}

// ListTransactions pages the whole ledger
// @Summary List all transactions
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param user_id query string false "Only this user"
// @Param page query int false "Page, 1-based"
// @Param limit query int false "Page size, at most 50"
// @Success 200 {object} SuccessResponse{data=models.Page[models.TransactionWithUser]}
// @Router /admin/transactions [get]
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	page, err := h.admin.ListAll(r.Context(), p, r.URL.Query().Get("user_id"),
		queryInt(r, "page", 1), queryInt(r, "limit", 0))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, page, "")
}

// UserBalance reports one user's balance and JPY value
// @Summary Get a user's balance
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} SuccessResponse{data=models.UserBalance}
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/users/{userId}/balance [get]
func (h *TransactionHandler) UserBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	balance, err := h.admin.UserBalance(r.Context(), p, chi.URLParam(r, "userId"))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, balance, "")
}
