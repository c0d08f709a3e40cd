package audit

import (
	"encoding/json"
	"time"

	"github.com/mockbtc/backend/internal/logger"
	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp     time.Time       `json:"timestamp"`
	EventType     string          `json:"event_type"`
	TransactionID string          `json:"transaction_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	ActorID       string          `json:"actor_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Details       any             `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogRequest(transactionID, userID string, txType string, amount decimal.Decimal) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "TRANSACTION_REQUEST",
		TransactionID: transactionID,
		UserID:        userID,
		ActorID:       userID,
		Amount:        amount,
		Status:        "PENDING",
		Details:       map[string]string{"transaction_type": txType},
	})
}

func (a *Logger) LogDecision(transactionID, userID, actorID, status, reason string, amount decimal.Decimal) {
	details := map[string]string{}
	if reason != "" {
		details["rejection_reason"] = reason
	}
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "TRANSACTION_DECISION",
		TransactionID: transactionID,
		UserID:        userID,
		ActorID:       actorID,
		Amount:        amount,
		Status:        status,
		Details:       details,
	})
}

func (a *Logger) LogAdminCreate(transactionID, userID, actorID, txType string, amount decimal.Decimal) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ADMIN_TRANSACTION",
		TransactionID: transactionID,
		UserID:        userID,
		ActorID:       actorID,
		Amount:        amount,
		Status:        "APPROVED",
		Details:       map[string]string{"transaction_type": txType},
	})
}

func (a *Logger) LogBatch(batchID, actorID, status string, rate decimal.Decimal, processed, failed int) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "BATCH_ADJUSTMENT",
		ActorID:   actorID,
		Amount:    rate,
		Status:    status,
		Details: map[string]any{
			"batch_id":  batchID,
			"processed": processed,
			"failed":    failed,
		},
	})
}

func (a *Logger) LogRate(rateID, actorID, operation string, rate decimal.Decimal) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "MARKET_RATE_" + operation,
		ActorID:   actorID,
		Amount:    rate,
		Status:    "SUCCESS",
		Details:   map[string]string{"rate_id": rateID},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	logger.Infof("AUDIT: %s", string(data))
}
