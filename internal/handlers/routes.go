package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mW "github.com/mockbtc/backend/internal/middleware"
	"github.com/mockbtc/backend/internal/models"
)

type Handlers struct {
	Transactions *TransactionHandler
	Batches      *BatchHandler
	Rates        *MarketRateHandler
	Dashboard    *DashboardHandler
}

// Routes mounts the API on r. A nil limiter leaves mutations unthrottled.
func (h *Handlers) Routes(r chi.Router, limiter *mW.RateLimiter) {
	throttle := func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return limiter.Handler(next)
	}
	perm := mW.RequirePermission

	// Public
	r.Get("/market-rates/latest", h.Rates.LatestRate)

	r.Group(func(r chi.Router) {
		r.Use(mW.AuthMiddleware)

		r.With(throttle, perm(models.PermTransactionRequest)).Post("/transactions/request", h.Transactions.RequestTransaction)
		r.With(perm(models.PermTransactionRead)).Get("/transaction-requests", h.Transactions.ListMyRequests)
		r.With(perm(models.PermTransactionRead)).Get("/transactions", h.Transactions.ListMyTransactions)
		r.With(perm(models.PermDashboardAccess)).Get("/dashboard", h.Dashboard.Dashboard)
		r.With(perm(models.PermMarketRateRead)).Get("/market-rates", h.Rates.ListRates)

		r.Route("/admin", func(r chi.Router) {
			r.With(perm(models.PermTransactionApprove)).Get("/transaction-requests", h.Transactions.ListRequestsByStatus)
			r.With(throttle, perm(models.PermTransactionApprove)).Patch("/transactions/{transactionId}/status", h.Transactions.DecideTransaction)
			r.With(throttle, perm(models.PermTransactionCreate)).Post("/transactions", h.Transactions.CreateTransaction)
			r.With(perm(models.PermAdminTransactionRead)).Get("/transactions", h.Transactions.ListTransactions)

			r.With(perm(models.PermUserRead)).Get("/users/{userId}/balance", h.Transactions.UserBalance)
			r.With(perm(models.PermUserRead)).Get("/users/{userId}/dashboard", h.Dashboard.UserDashboard)
			r.With(perm(models.PermUserRead)).Get("/dashboard", h.Dashboard.AdminOverview)

			r.With(throttle, perm(models.PermBatchExecute)).Post("/batch-operations", h.Batches.ExecuteBatch)
			r.With(perm(models.PermBatchRead)).Get("/batch-operations", h.Batches.ListBatches)
			r.With(perm(models.PermBatchRead)).Get("/batch-operations/{batchId}", h.Batches.GetBatch)
			r.With(throttle, perm(models.PermBatchExecute)).Post("/batch-operations/{batchId}/resume", h.Batches.ResumeBatch)

			r.With(throttle, perm(models.PermMarketRateCreate)).Post("/market-rates", h.Rates.CreateRates)
			r.With(perm(models.PermMarketRateRead)).Get("/market-rates/{rateId}", h.Rates.GetRate)
			r.With(throttle, perm(models.PermMarketRateCreate)).Put("/market-rates/{rateId}", h.Rates.UpdateRate)
		})
	})
}
