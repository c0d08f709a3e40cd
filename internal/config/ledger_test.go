package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadLedgerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadLedgerConfig()

		assert.Equal(t, 50, cfg.DailyRequestLimit)
		assert.Equal(t, 25, cfg.BatchChunkSize)
		assert.Equal(t, 15*time.Minute, cfg.BatchStaleAfter)
		assert.Equal(t, 30, cfg.HistoryDays)
		assert.Equal(t, 10, cfg.RecentTransactions)
		assert.NotNil(t, cfg.Location)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("LEDGER_DAILY_REQUEST_LIMIT", "5")
		t.Setenv("LEDGER_BATCH_STALE_AFTER", "1h")
		t.Setenv("LEDGER_TIMEZONE", "Asia/Tokyo")

		cfg := LoadLedgerConfig()

		assert.Equal(t, 5, cfg.DailyRequestLimit)
		assert.Equal(t, time.Hour, cfg.BatchStaleAfter)
		assert.Equal(t, "Asia/Tokyo", cfg.Location.String())
	})

	t.Run("chunk size is clamped to the grouped write limit", func(t *testing.T) {
		t.Setenv("LEDGER_BATCH_CHUNK_SIZE", "100")

		cfg := LoadLedgerConfig()

		assert.Equal(t, MaxChunkSize, cfg.BatchChunkSize)
	})

	t.Run("invalid values fall back", func(t *testing.T) {
		t.Setenv("LEDGER_DAILY_REQUEST_LIMIT", "many")
		t.Setenv("LEDGER_TIMEZONE", "Mars/Olympus")

		cfg := LoadLedgerConfig()

		assert.Equal(t, 50, cfg.DailyRequestLimit)
		assert.Equal(t, time.Local, cfg.Location)
	})
}
