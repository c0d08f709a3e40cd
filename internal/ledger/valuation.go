package ledger

import (
	"sort"
	"time"

	"github.com/mockbtc/backend/internal/models"
	"github.com/shopspring/decimal"
)

// SortRatesDesc orders rates newest first
func SortRatesDesc(rates []models.MarketRate) {
	sort.SliceStable(rates, func(i, j int) bool {
		return rates[i].Timestamp.After(rates[j].Timestamp)
	})
}

// RateAt returns the latest rate effective at t. ratesDesc must be sorted newest first.
func RateAt(ratesDesc []models.MarketRate, t time.Time) (models.MarketRate, bool) {
	for _, rate := range ratesDesc {
		if !rate.Timestamp.After(t) {
			return rate, true
		}
	}
	return models.MarketRate{}, false
}

// Valuation converts a BTC amount to JPY
func Valuation(balance, btcJPYRate decimal.Decimal) decimal.Decimal {
	return balance.Mul(btcJPYRate)
}

// EndOfDay is the last instant of the calendar day containing t, in t's location
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// StartOfDay is local midnight of the day containing t
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// History builds the trailing valuation series ending on the day of now,
// oldest first. Days with no rate at or before them are valued at zero.
func History(txs []models.Transaction, ratesDesc []models.MarketRate, now time.Time, days int) []models.BalanceHistoryItem {
	history := make([]models.BalanceHistoryItem, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := EndOfDay(now.AddDate(0, 0, -i))

		btcAmount := BalanceAt(txs, day)
		btcRate := decimal.Zero
		if rate, ok := RateAt(ratesDesc, day); ok {
			btcRate = rate.BTCJPYRate
		}

		history = append(history, models.BalanceHistoryItem{
			Date:      day.Format("2006-01-02"),
			BTCAmount: btcAmount,
			JPYValue:  Valuation(btcAmount, btcRate),
			BTCRate:   btcRate,
		})
	}
	return history
}
