// Package ledger derives balances and valuations from transaction history.
// Balances are never stored; every figure here is a fold over the records
// passed in, so callers always recompute from the full history.
package ledger

import (
	"time"

	"github.com/mockbtc/backend/internal/models"
	"github.com/shopspring/decimal"
)

// DisplayPlaces is the precision BTC amounts are stored and shown with
const DisplayPlaces = 8

// IsApproved reports whether a transaction counts towards the balance
func IsApproved(tx models.Transaction) bool {
	return tx.Status == "" || tx.Status == models.TransactionStatusApproved
}

func FilterApproved(txs []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if IsApproved(tx) {
			out = append(out, tx)
		}
	}
	return out
}

// FilterUntil keeps transactions whose effective timestamp is not after t
func FilterUntil(txs []models.Transaction, t time.Time) []models.Transaction {
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.Timestamp.After(t) {
			out = append(out, tx)
		}
	}
	return out
}

// Signed returns the balance delta of a single transaction
func Signed(tx models.Transaction) decimal.Decimal {
	switch tx.Type {
	case models.TransactionTypeWithdrawal:
		return tx.Amount.Neg()
	default:
		return tx.Amount
	}
}

// Balance folds the approved transactions into a BTC balance
func Balance(txs []models.Transaction) decimal.Decimal {
	balance := decimal.Zero
	for _, tx := range txs {
		if !IsApproved(tx) {
			continue
		}
		balance = balance.Add(Signed(tx))
	}
	return balance
}

// BalanceAt is the balance as of t
func BalanceAt(txs []models.Transaction, t time.Time) decimal.Decimal {
	return Balance(FilterUntil(txs, t))
}

func sumApproved(txs []models.Transaction, txType models.TransactionType) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if IsApproved(tx) && tx.Type == txType {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// DepositPrincipal is the total of approved deposits
func DepositPrincipal(txs []models.Transaction) decimal.Decimal {
	return sumApproved(txs, models.TransactionTypeDeposit)
}

// WithdrawalTotal is the total of approved withdrawals
func WithdrawalTotal(txs []models.Transaction) decimal.Decimal {
	return sumApproved(txs, models.TransactionTypeWithdrawal)
}

// CreditBonus is the net of approved batch adjustments
func CreditBonus(txs []models.Transaction) decimal.Decimal {
	return sumApproved(txs, models.TransactionTypeAssetManagement)
}

// NetProfit is what the holder gained beyond deposited principal
func NetProfit(balance, principal, withdrawn decimal.Decimal) decimal.Decimal {
	return balance.Sub(principal).Add(withdrawn)
}

// Round8 rounds an amount to the precision of the amount column
func Round8(d decimal.Decimal) decimal.Decimal {
	return d.Round(DisplayPlaces)
}
