package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/audit"
	"github.com/mockbtc/backend/internal/config"
	"github.com/mockbtc/backend/internal/ledger"
	"github.com/mockbtc/backend/internal/logger"
	"github.com/mockbtc/backend/internal/metrics"
	"github.com/mockbtc/backend/internal/models"
	"github.com/shopspring/decimal"
)

const maxRatePageLimit = 100

// accepted layouts for rate timestamps; zone-less forms use the ledger location
var rateTimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type rateStore interface {
	RateStore
	TransactionStore
	UserStore
}

// MarketRateService manages BTC/JPY rates and values balances against them
type MarketRateService struct {
	store rateStore
	pool  Submitter
	audit *audit.Logger
	cfg   *config.LedgerConfig
	now   func() time.Time
}

func NewMarketRateService(store rateStore, pool Submitter, cfg *config.LedgerConfig) *MarketRateService {
	return &MarketRateService{
		store: store,
		pool:  pool,
		audit: audit.NewLogger(),
		cfg:   cfg,
		now:   time.Now,
	}
}

// RateID derives a rate's identity from the Unix second it takes effect
func RateID(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func (s *MarketRateService) parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range rateTimestampLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, raw)
		} else {
			t, err = time.ParseInLocation(layout, raw, s.cfg.Location)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Validation("invalid timestamp format: %s", raw)
}

// validate checks one rate entry and returns its effective time
func (s *MarketRateService) validate(in models.RateInput) (time.Time, error) {
	if strings.TrimSpace(in.Timestamp) == "" || in.BTCJPYRate.IsZero() {
		return time.Time{}, apperr.Validation("timestamp and BTC rate are required")
	}
	if !in.BTCJPYRate.IsPositive() {
		return time.Time{}, apperr.Validation("BTC rate must be positive")
	}
	return s.parseTimestamp(in.Timestamp)
}

func (s *MarketRateService) insert(ctx context.Context, actorID string, at time.Time, btcJPY decimal.Decimal) (*models.MarketRate, error) {
	rate := &models.MarketRate{
		RateID:     RateID(at),
		Timestamp:  at,
		BTCJPYRate: btcJPY,
		CreatedBy:  actorID,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertRate(ctx, rate); err != nil {
		return nil, err
	}
	return rate, nil
}

// Create stores one rate; an existing rate at the same time is a conflict
func (s *MarketRateService) Create(ctx context.Context, p models.Principal, in models.RateInput) (*models.MarketRate, error) {
	if err := authorize(p, models.PermMarketRateCreate); err != nil {
		return nil, err
	}
	at, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	rate, err := s.insert(ctx, p.UserID, at, in.BTCJPYRate)
	if err != nil {
		if apperr.Is(err, apperr.ConflictError) {
			metrics.MarketRateWritesTotal.WithLabelValues("duplicate").Inc()
			return nil, apperr.Conflict("market rate for this timestamp already exists")
		}
		return nil, err
	}

	metrics.MarketRateWritesTotal.WithLabelValues("create").Inc()
	s.audit.LogRate(rate.RateID, p.UserID, "CREATE", rate.BTCJPYRate)
	s.scheduleRecompute(*rate)
	return rate, nil
}

// BulkCreate stores each entry independently; duplicates and bad entries
// are reported, not fatal
func (s *MarketRateService) BulkCreate(ctx context.Context, p models.Principal, rates []models.RateInput) (*models.BulkRateResult, error) {
	if err := authorize(p, models.PermMarketRateCreate); err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return nil, apperr.Validation("no rates provided")
	}

	result := &models.BulkRateResult{
		Duplicates: []models.RateInput{},
		Errors:     []string{},
	}
	created := make([]models.MarketRate, 0, len(rates))

	for _, in := range rates {
		at, err := s.validate(in)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("invalid data for %q: %s", in.Timestamp, errorMessage(err)))
			continue
		}

		rate, err := s.insert(ctx, p.UserID, at, in.BTCJPYRate)
		switch {
		case err == nil:
			created = append(created, *rate)
			s.audit.LogRate(rate.RateID, p.UserID, "CREATE", rate.BTCJPYRate)
		case apperr.Is(err, apperr.ConflictError):
			result.Duplicates = append(result.Duplicates, in)
		default:
			logger.Errorf("[MarketRate] failed to create rate for %s: %v", in.Timestamp, err)
			result.Errors = append(result.Errors, fmt.Sprintf("failed to create rate for %s: %v", in.Timestamp, err))
		}
	}

	for _, rate := range created {
		s.scheduleRecompute(rate)
	}

	metrics.MarketRateWritesTotal.WithLabelValues("create").Add(float64(len(created)))
	metrics.MarketRateWritesTotal.WithLabelValues("duplicate").Add(float64(len(result.Duplicates)))

	result.CreatedCount = len(created)
	result.Message = fmt.Sprintf("Successfully created %d market rates", len(created))
	if n := len(result.Duplicates); n > 0 {
		result.Message += fmt.Sprintf(", %d duplicates skipped", n)
	}
	if n := len(result.Errors); n > 0 {
		result.Message += fmt.Sprintf(", %d errors occurred", n)
	}
	return result, nil
}

// Update replaces a rate. The old record is removed and the new one
// inserted in one grouped write since the timestamp, and so the id, may change.
func (s *MarketRateService) Update(ctx context.Context, p models.Principal, rateID string, in models.RateInput) (*models.MarketRate, error) {
	if err := authorize(p, models.PermMarketRateCreate); err != nil {
		return nil, err
	}
	if rateID == "" {
		return nil, apperr.Validation("rate id is required")
	}
	at, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetRate(ctx, rateID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updated := &models.MarketRate{
		RateID:     RateID(at),
		Timestamp:  at,
		BTCJPYRate: in.BTCJPYRate,
		CreatedBy:  existing.CreatedBy,
		CreatedAt:  existing.CreatedAt,
		UpdatedAt:  &now,
		UpdatedBy:  p.UserID,
	}
	if err := s.store.ReplaceRate(ctx, rateID, updated); err != nil {
		return nil, err
	}

	metrics.MarketRateWritesTotal.WithLabelValues("update").Inc()
	s.audit.LogRate(updated.RateID, p.UserID, "UPDATE", updated.BTCJPYRate)
	s.scheduleRecompute(*updated)
	return updated, nil
}

func (s *MarketRateService) Get(ctx context.Context, p models.Principal, rateID string) (*models.MarketRate, error) {
	if err := authorize(p, models.PermMarketRateRead); err != nil {
		return nil, err
	}
	return s.store.GetRate(ctx, rateID)
}

// List pages rates newest first
func (s *MarketRateService) List(ctx context.Context, p models.Principal, page, limit int) (*models.Page[models.MarketRate], error) {
	if err := authorize(p, models.PermMarketRateRead); err != nil {
		return nil, err
	}

	page, limit = pageBounds(page, limit, maxPageLimit, maxRatePageLimit)
	rates, total, err := s.store.ListRates(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list market rates: %w", err)
	}

	return &models.Page[models.MarketRate]{
		Items:   rates,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: page*limit < total,
	}, nil
}

// Latest returns the most recent rate, or nil when none exist
func (s *MarketRateService) Latest(ctx context.Context) (*models.MarketRate, error) {
	rate, err := s.store.LatestRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest rate: %w", err)
	}
	return rate, nil
}

// CurrentValue is the user's balance at the latest rate, zero without rates
func (s *MarketRateService) CurrentValue(ctx context.Context, userID string) (decimal.Decimal, error) {
	balance, err := userBalance(ctx, s.store, userID)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := s.Latest(ctx)
	if err != nil || rate == nil {
		return decimal.Zero, err
	}
	return ledger.Valuation(balance, rate.BTCJPYRate), nil
}

func (s *MarketRateService) scheduleRecompute(rate models.MarketRate) {
	if s.pool == nil {
		return
	}
	if !s.pool.Submit(func() { s.recompute(context.Background(), rate) }) {
		logger.Warnf("[MarketRate] recompute for rate %s not scheduled", rate.RateID)
	}
}

// recompute values every active user's balance at the rate's time.
// Errors are logged and never propagate.
func (s *MarketRateService) recompute(ctx context.Context, rate models.MarketRate) int {
	users, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		logger.Errorf("[MarketRate] recompute for rate %s: list users: %v", rate.RateID, err)
		return 0
	}

	valued := 0
	for _, user := range users {
		txns, err := s.store.ListUserTransactionsUntil(ctx, user.UserID, rate.Timestamp)
		if err != nil {
			logger.Errorf("[MarketRate] recompute for %s failed: %v", user.UserID, err)
			continue
		}
		balance := ledger.Balance(txns)
		logger.WithFields(map[string]any{
			"user_id": user.UserID,
			"rate_id": rate.RateID,
			"btc":     balance.String(),
			"jpy":     ledger.Valuation(balance, rate.BTCJPYRate).StringFixed(0),
		}).Info("[MarketRate] asset value recomputed")
		valued++
	}

	logger.Infof("[MarketRate] recomputed asset values for %d users at rate %s", valued, rate.RateID)
	return valued
}

func errorMessage(err error) string {
	if appErr, ok := apperr.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}
