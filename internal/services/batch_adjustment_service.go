package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/audit"
	"github.com/mockbtc/backend/internal/config"
	"github.com/mockbtc/backend/internal/ledger"
	"github.com/mockbtc/backend/internal/lock"
	"github.com/mockbtc/backend/internal/logger"
	"github.com/mockbtc/backend/internal/metrics"
	"github.com/mockbtc/backend/internal/models"
	"github.com/shopspring/decimal"
)

const assetManagementReason = "asset management"

// adjustment_rate is NUMERIC(12, 4)
const ratePlaces = 4

var (
	hundred = decimal.NewFromInt(100)
	maxRate = decimal.New(1, 8)
)

// BatchInput starts a percentage adjustment across all active users
type BatchInput struct {
	AdjustmentRate *decimal.Decimal `json:"adjustment_rate"`
	Memo           string           `json:"memo" validate:"max=500"`
}

type batchStore interface {
	TransactionStore
	UserStore
	BatchStore
}

// BatchAdjustmentService applies one adjustment rate to every active user
// under a single batch id. Reruns skip users the batch already adjusted.
type BatchAdjustmentService struct {
	store  batchStore
	locker lock.Locker
	audit  *audit.Logger
	cfg    *config.LedgerConfig
	now    func() time.Time
}

func NewBatchAdjustmentService(store batchStore, locker lock.Locker, cfg *config.LedgerConfig) *BatchAdjustmentService {
	return &BatchAdjustmentService{
		store:  store,
		locker: locker,
		audit:  audit.NewLogger(),
		cfg:    cfg,
		now:    time.Now,
	}
}

// batchProgress is what a run managed before it ended or failed
type batchProgress struct {
	alreadyProcessed int
	succeeded        int
	errors           []models.UserError
}

func (p batchProgress) processed() int {
	return p.alreadyProcessed + p.succeeded
}

// AdjustmentAmount is balance * rate / 100, signed, at ledger precision.
// Anything under half a satoshi comes out as zero.
func AdjustmentAmount(balance, rate decimal.Decimal) decimal.Decimal {
	return ledger.Round8(balance.Mul(rate).Div(hundred))
}

func validateRate(rate decimal.Decimal) error {
	if rate.LessThanOrEqual(hundred.Neg()) {
		return apperr.Validation("adjustment_rate must be greater than -100%%")
	}
	if !rate.Equal(rate.Round(ratePlaces)) {
		return apperr.Validation("adjustment_rate allows at most %d decimal places", ratePlaces)
	}
	if rate.GreaterThanOrEqual(maxRate) {
		return apperr.Validation("adjustment_rate is too large")
	}
	return nil
}

// Execute creates a batch operation and runs it to a terminal state
func (s *BatchAdjustmentService) Execute(ctx context.Context, p models.Principal, in BatchInput) (*models.BatchResult, error) {
	if err := authorize(p, models.PermBatchExecute); err != nil {
		return nil, err
	}
	if in.AdjustmentRate == nil {
		return nil, apperr.Validation("adjustment_rate is required")
	}
	if err := validateRate(*in.AdjustmentRate); err != nil {
		return nil, err
	}

	users, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	if len(users) == 0 {
		return nil, apperr.Validation("no active users found")
	}

	op := &models.BatchOperation{
		BatchID:         uuid.NewString(),
		OperationType:   models.BatchOperationBTCAdjustment,
		AdjustmentRate:  *in.AdjustmentRate,
		TargetUserCount: len(users),
		Status:          models.BatchStatusPending,
		CreatedBy:       p.UserID,
		CreatedAt:       s.now(),
		Memo:            in.Memo,
	}

	release, err := s.locker.Acquire(ctx, batchLockKey(op.BatchID))
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.store.CreateBatchOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("create batch operation: %w", err)
	}
	logger.Infof("[BatchAdjustment] batch %s started by %s: rate %s%%, %d users", op.BatchID, p.UserID, op.AdjustmentRate, len(users))

	return s.run(ctx, op, users, p.UserID)
}

// Resume reruns an unfinished or failed batch. Users it already adjusted are skipped.
func (s *BatchAdjustmentService) Resume(ctx context.Context, p models.Principal, batchID string) (*models.BatchResult, error) {
	if err := authorize(p, models.PermBatchExecute); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, batchLockKey(batchID))
	if err != nil {
		return nil, err
	}
	defer release()

	return s.resume(ctx, batchID, p.UserID)
}

func (s *BatchAdjustmentService) resume(ctx context.Context, batchID, actorID string) (*models.BatchResult, error) {
	op, err := s.store.GetBatchOperation(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if op.Status == models.BatchStatusCompleted {
		return nil, apperr.Conflict("batch operation %s is already completed", batchID)
	}

	users, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	logger.Infof("[BatchAdjustment] resuming batch %s (%s) for %s", batchID, op.Status, actorID)
	return s.run(ctx, op, users, actorID)
}

// RecoverStale resumes batches left pending or processing past the stale
// threshold, e.g. after a crash. It returns how many were resumed.
func (s *BatchAdjustmentService) RecoverStale(ctx context.Context) (int, error) {
	actor := models.SystemPrincipal
	if err := authorize(actor, models.PermBatchExecute); err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.cfg.BatchStaleAfter)
	stale, err := s.store.ListStaleBatchOperations(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale batch operations: %w", err)
	}

	recovered := 0
	for _, op := range stale {
		release, err := s.locker.Acquire(ctx, batchLockKey(op.BatchID))
		if err != nil {
			// a live run holds it
			logger.Warnf("[BatchRecovery] skipping batch %s: %v", op.BatchID, err)
			continue
		}

		result, err := s.resume(ctx, op.BatchID, actor.UserID)
		release()
		if err != nil {
			logger.Errorf("[BatchRecovery] batch %s could not be resumed: %v", op.BatchID, err)
			continue
		}
		recovered++
		logger.Infof("[BatchRecovery] batch %s resumed: %s, processed=%d failed=%d",
			op.BatchID, result.Status, result.ProcessedUserCount, result.FailedUserCount)
	}
	return recovered, nil
}

func (s *BatchAdjustmentService) run(ctx context.Context, op *models.BatchOperation, users []models.User, actorID string) (*models.BatchResult, error) {
	startedAt := s.now()
	if err := s.store.UpdateBatchOperation(ctx, op.BatchID, models.BatchStatusUpdate{
		Status:    models.BatchStatusProcessing,
		StartedAt: &startedAt,
	}); err != nil {
		return nil, fmt.Errorf("start batch operation: %w", err)
	}

	progress, err := s.process(ctx, op, users, startedAt, actorID)
	if err != nil {
		s.markFailed(op, progress, err)
		return nil, err
	}

	processed := progress.processed()
	failed := len(progress.errors)
	status := models.BatchStatusCompleted
	if op.TargetUserCount > 0 && failed == op.TargetUserCount {
		status = models.BatchStatusFailed
	}

	completedAt := s.now()
	update := models.BatchStatusUpdate{
		Status:             status,
		ProcessedUserCount: &processed,
		FailedUserCount:    &failed,
		CompletedAt:        &completedAt,
	}
	if failed > 0 {
		update.ErrorMessage = fmt.Sprintf("%d errors occurred. First error: %s", failed, progress.errors[0].Error)
	}
	if err := s.store.UpdateBatchOperation(ctx, op.BatchID, update); err != nil {
		return nil, fmt.Errorf("finish batch operation: %w", err)
	}

	metrics.BatchRunsTotal.WithLabelValues(string(status)).Inc()
	metrics.BatchUsersTotal.WithLabelValues("processed").Add(float64(progress.succeeded))
	metrics.BatchUsersTotal.WithLabelValues("failed").Add(float64(failed))
	s.audit.LogBatch(op.BatchID, actorID, string(status), op.AdjustmentRate, processed, failed)
	logger.Infof("[BatchAdjustment] batch %s %s: processed=%d failed=%d", op.BatchID, status, processed, failed)

	result := &models.BatchResult{
		BatchID:            op.BatchID,
		Status:             status,
		TargetUserCount:    op.TargetUserCount,
		ProcessedUserCount: processed,
		FailedUserCount:    failed,
	}
	if failed > 0 {
		result.Errors = progress.errors
	}
	return result, nil
}

// markFailed records a whole-batch failure with the progress known so far
func (s *BatchAdjustmentService) markFailed(op *models.BatchOperation, progress batchProgress, cause error) {
	processed := progress.processed()
	failed := op.TargetUserCount - processed
	if failed < 0 {
		failed = 0
	}
	completedAt := s.now()

	// the caller's context may be the reason we are here
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.store.UpdateBatchOperation(ctx, op.BatchID, models.BatchStatusUpdate{
		Status:             models.BatchStatusFailed,
		ProcessedUserCount: &processed,
		FailedUserCount:    &failed,
		CompletedAt:        &completedAt,
		ErrorMessage:       cause.Error(),
	})
	if err != nil {
		logger.Errorf("[BatchAdjustment] batch %s could not be marked failed: %v", op.BatchID, err)
	}

	metrics.BatchRunsTotal.WithLabelValues(string(models.BatchStatusFailed)).Inc()
	s.audit.LogBatch(op.BatchID, op.CreatedBy, string(models.BatchStatusFailed), op.AdjustmentRate, processed, failed)
	logger.Errorf("[BatchAdjustment] batch %s failed: %v", op.BatchID, cause)
}

// process builds and writes one entry per user not yet adjusted by this batch
func (s *BatchAdjustmentService) process(ctx context.Context, op *models.BatchOperation, users []models.User, at time.Time, actorID string) (batchProgress, error) {
	var progress batchProgress

	done, err := s.store.ListBatchUserIDs(ctx, op.BatchID)
	if err != nil {
		return progress, fmt.Errorf("load processed users: %w", err)
	}
	processedSet := make(map[string]struct{}, len(done))
	for _, userID := range done {
		processedSet[userID] = struct{}{}
	}
	progress.alreadyProcessed = len(processedSet)

	memo := "asset_manage_id: " + op.BatchID
	if op.Memo != "" {
		memo += " | " + op.Memo
	}

	entries := make([]models.Transaction, 0, len(users))
	for _, user := range users {
		if _, ok := processedSet[user.UserID]; ok {
			metrics.BatchUsersTotal.WithLabelValues("skipped").Inc()
			continue
		}

		balance, err := userBalance(ctx, s.store, user.UserID)
		if err != nil {
			if ctx.Err() != nil {
				return progress, ctx.Err()
			}
			progress.errors = append(progress.errors, models.UserError{UserID: user.UserID, Error: err.Error()})
			continue
		}

		amount := AdjustmentAmount(balance, op.AdjustmentRate)
		if amount.IsZero() {
			logger.Debugf("[BatchAdjustment] %s: zero adjustment, skipped", user.UserID)
			continue
		}

		batchID := op.BatchID
		entries = append(entries, models.Transaction{
			TransactionID: uuid.NewString(),
			BatchID:       &batchID,
			UserID:        user.UserID,
			Amount:        amount,
			Type:          models.TransactionTypeAssetManagement,
			Status:        models.TransactionStatusApproved,
			Timestamp:     at,
			CreatedBy:     actorID,
			Reason:        assetManagementReason,
			Memo:          memo,
		})
	}

	logger.Infof("[BatchAdjustment] batch %s: %d entries to write", op.BatchID, len(entries))

	chunkSize := s.cfg.BatchChunkSize
	for start := 0; start < len(entries); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return progress, err
		}

		end := start + chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		err := s.store.InsertTransactions(ctx, chunk)
		if err == nil {
			progress.succeeded += len(chunk)
			continue
		}
		logger.Warnf("[BatchAdjustment] batch %s chunk %d-%d failed, writing individually: %v",
			op.BatchID, start+1, end, err)

		for i := range chunk {
			err := s.store.InsertTransaction(ctx, &chunk[i])
			switch {
			case err == nil:
				progress.succeeded++
			case apperr.Is(err, apperr.ConflictError):
				// another run already wrote this user's entry
				progress.succeeded++
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return progress, err
			default:
				progress.errors = append(progress.errors, models.UserError{UserID: chunk[i].UserID, Error: err.Error()})
				logger.Errorf("[BatchAdjustment] batch %s: write for %s failed: %v", op.BatchID, chunk[i].UserID, err)
			}
		}
	}

	return progress, nil
}

// Get loads one batch operation
func (s *BatchAdjustmentService) Get(ctx context.Context, p models.Principal, batchID string) (*models.BatchOperation, error) {
	if err := authorize(p, models.PermBatchRead); err != nil {
		return nil, err
	}
	return s.store.GetBatchOperation(ctx, batchID)
}

// List pages batch operations newest first using offset paging
func (s *BatchAdjustmentService) List(ctx context.Context, p models.Principal, status string, limit, offset int) (*models.Page[models.BatchOperation], error) {
	if err := authorize(p, models.PermBatchRead); err != nil {
		return nil, err
	}
	st := models.BatchStatus(status)
	if status != "" && !st.Valid() {
		return nil, apperr.Validation("invalid status %q", status)
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	ops, total, err := s.store.ListBatchOperations(ctx, st, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list batch operations: %w", err)
	}

	return &models.Page[models.BatchOperation]{
		Items:   ops,
		Total:   total,
		Page:    offset/limit + 1,
		Limit:   limit,
		HasMore: offset+limit < total,
	}, nil
}
