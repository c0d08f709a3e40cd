package config

import (
	"os"
	"strconv"
	"time"
)

// MaxChunkSize is the largest group the store accepts in one grouped write
const MaxChunkSize = 25

type LedgerConfig struct {
	DailyRequestLimit     int
	BatchChunkSize        int
	BatchStaleAfter       time.Duration
	BatchRecoveryInterval time.Duration
	HistoryDays           int
	RecentTransactions    int
	LockTTL               time.Duration
	LockWait              time.Duration
	RecomputeWorkers      int
	Location              *time.Location
	HTTPRateLimit         float64
	HTTPRateBurst         int
}

func LoadLedgerConfig() *LedgerConfig {
	cfg := &LedgerConfig{
		DailyRequestLimit:     getEnvAsInt("LEDGER_DAILY_REQUEST_LIMIT", 50),
		BatchChunkSize:        getEnvAsInt("LEDGER_BATCH_CHUNK_SIZE", MaxChunkSize),
		BatchStaleAfter:       getEnvAsDuration("LEDGER_BATCH_STALE_AFTER", 15*time.Minute),
		BatchRecoveryInterval: getEnvAsDuration("LEDGER_BATCH_RECOVERY_INTERVAL", 5*time.Minute),
		HistoryDays:           getEnvAsInt("LEDGER_HISTORY_DAYS", 30),
		RecentTransactions:    getEnvAsInt("LEDGER_RECENT_TRANSACTIONS", 10),
		LockTTL:               getEnvAsDuration("LEDGER_LOCK_TTL", 10*time.Second),
		LockWait:              getEnvAsDuration("LEDGER_LOCK_WAIT", 3*time.Second),
		RecomputeWorkers:      getEnvAsInt("LEDGER_RECOMPUTE_WORKERS", 4),
		Location:              getEnvAsLocation("LEDGER_TIMEZONE", time.Local),
		HTTPRateLimit:         getEnvAsFloat("HTTP_RATE_LIMIT", 10),
		HTTPRateBurst:         getEnvAsInt("HTTP_RATE_BURST", 50),
	}
	cfg.Normalize()
	return cfg
}

// DefaultLedgerConfig returns the defaults without reading the environment
func DefaultLedgerConfig() *LedgerConfig {
	cfg := &LedgerConfig{
		DailyRequestLimit:     50,
		BatchChunkSize:        MaxChunkSize,
		BatchStaleAfter:       15 * time.Minute,
		BatchRecoveryInterval: 5 * time.Minute,
		HistoryDays:           30,
		RecentTransactions:    10,
		LockTTL:               10 * time.Second,
		LockWait:              3 * time.Second,
		RecomputeWorkers:      4,
		Location:              time.Local,
		HTTPRateLimit:         10,
		HTTPRateBurst:         50,
	}
	return cfg
}

// Normalize clamps values that the ledger cannot honour
func (c *LedgerConfig) Normalize() {
	if c.BatchChunkSize < 1 || c.BatchChunkSize > MaxChunkSize {
		c.BatchChunkSize = MaxChunkSize
	}
	if c.DailyRequestLimit < 1 {
		c.DailyRequestLimit = 1
	}
	if c.HistoryDays < 1 {
		c.HistoryDays = 30
	}
	if c.RecentTransactions < 1 {
		c.RecentTransactions = 10
	}
	if c.RecomputeWorkers < 1 {
		c.RecomputeWorkers = 1
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsLocation(key string, defaultVal *time.Location) *time.Location {
	name := getEnv(key, "")
	if name == "" {
		return defaultVal
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return defaultVal
	}
	return loc
}
