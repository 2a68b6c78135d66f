package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fandry/internal/config"
	"fandry/internal/infrastructure/cache"
	"fandry/internal/metrics"
	"fandry/internal/model"
	"fandry/internal/repository"
	"fandry/pkg/idgen"
	"fandry/pkg/logger"

	"gorm.io/gorm"
)

// BalanceService is the only writer of point_balances and point_transactions.
type BalanceService struct {
	db              *gorm.DB
	cfg             *config.Config
	cache           *cache.BalanceCache
	balanceRepo     *repository.BalanceRepository
	transactionRepo *repository.TransactionRepository
}

// NewBalanceService works without a cache when balanceCache is nil.
func NewBalanceService(db *gorm.DB, balanceCache *cache.BalanceCache, cfg *config.Config) *BalanceService {
	return &BalanceService{
		db:              db,
		cfg:             cfg,
		cache:           balanceCache,
		balanceRepo:     repository.NewBalanceRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// Mutation describes one ledger row to append.
type Mutation struct {
	UserID      int64
	Amount      int64 // always positive; the direction comes from Debit or Credit
	Type        string
	Description string
	OrderNo     string
}

var debitTypes = map[string]bool{
	model.TransactionTypePostPurchase: true,
	model.TransactionTypeSubscription: true,
	model.TransactionTypeTip:          true,
}

var creditTypes = map[string]bool{
	model.TransactionTypePurchase:   true,
	model.TransactionTypeRefund:     true,
	model.TransactionTypeAdminGrant: true,
}

const (
	maxMutationRetries = 3
	baseRetryDelay     = 2 * time.Millisecond
)

// Debit runs DebitTx in its own transaction, retrying transient failures with backoff.
func (s *BalanceService) Debit(ctx context.Context, m Mutation) (*model.PointTransaction, error) {
	return s.withRetry(ctx, m, s.DebitTx)
}

// Credit runs CreditTx in its own transaction with the same retry policy as Debit.
func (s *BalanceService) Credit(ctx context.Context, m Mutation) (*model.PointTransaction, error) {
	return s.withRetry(ctx, m, s.CreditTx)
}

func (s *BalanceService) withRetry(ctx context.Context, m Mutation, apply func(context.Context, *gorm.DB, Mutation) (*model.PointTransaction, error)) (*model.PointTransaction, error) {
	var lastErr error
	for attempt := 0; attempt <= maxMutationRetries; attempt++ {
		var trans *model.PointTransaction
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			trans, err = apply(ctx, tx, m)
			return err
		})
		if err == nil {
			s.InvalidateCache(ctx, m.UserID)
			return trans, nil
		}
		if isPermanent(err) {
			return nil, err
		}
		lastErr = err

		if attempt < maxMutationRetries {
			delay := baseRetryDelay * time.Duration(1<<attempt)
			logger.Warn("ledger mutation retry", "user_id", m.UserID, "type", m.Type, "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, fmt.Errorf("ledger mutation failed after %d attempts: %w", maxMutationRetries+1, lastErr)
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// DebitTx subtracts m.Amount inside the caller's transaction. The row is locked and the
// update is guarded on balance and version, so the check and the write are one unit.
func (s *BalanceService) DebitTx(ctx context.Context, tx *gorm.DB, m Mutation) (*model.PointTransaction, error) {
	if m.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !debitTypes[m.Type] {
		return nil, fmt.Errorf("%w: %q cannot debit", ErrInvalidTransaction, m.Type)
	}

	balance, err := s.lockBalance(ctx, tx, m.UserID)
	if err != nil {
		return nil, err
	}
	if balance.Balance < m.Amount {
		return nil, ErrInsufficientBalance
	}

	err = s.balanceRepo.Deduct(ctx, tx, m.UserID, m.Amount, balance.Version, model.IsSpendType(m.Type))
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotEnough) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("deduct points: %w", err)
	}

	return s.appendRow(ctx, tx, m, -m.Amount, balance.Balance)
}

// CreditTx adds m.Amount inside the caller's transaction. Only purchase credits count
// towards total_purchased.
func (s *BalanceService) CreditTx(ctx context.Context, tx *gorm.DB, m Mutation) (*model.PointTransaction, error) {
	if m.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !creditTypes[m.Type] {
		return nil, fmt.Errorf("%w: %q cannot credit", ErrInvalidTransaction, m.Type)
	}

	balance, err := s.lockBalance(ctx, tx, m.UserID)
	if err != nil {
		return nil, err
	}

	err = s.balanceRepo.Increase(ctx, tx, m.UserID, m.Amount, balance.Version, m.Type == model.TransactionTypePurchase)
	if err != nil {
		return nil, fmt.Errorf("credit points: %w", err)
	}

	return s.appendRow(ctx, tx, m, m.Amount, balance.Balance)
}

func (s *BalanceService) lockBalance(ctx context.Context, tx *gorm.DB, userID int64) (*model.PointBalance, error) {
	if _, err := s.balanceRepo.GetOrCreate(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("load point balance: %w", err)
	}
	balance, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock point balance: %w", err)
	}
	return balance, nil
}

func (s *BalanceService) appendRow(ctx context.Context, tx *gorm.DB, m Mutation, signed, before int64) (*model.PointTransaction, error) {
	trans := &model.PointTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        m.UserID,
		Amount:        signed,
		Type:          m.Type,
		BalanceBefore: before,
		BalanceAfter:  before + signed,
		Description:   truncate(m.Description, 256),
	}
	if m.OrderNo != "" {
		orderNo := m.OrderNo
		trans.OrderNo = &orderNo
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("append ledger row: %w", err)
	}
	metrics.LedgerMutations.WithLabelValues(m.Type).Inc()
	return trans, nil
}

// GrantPoints credits points by hand; the ledger row names the admin.
func (s *BalanceService) GrantPoints(ctx context.Context, adminID, userID, amount int64, reason string) (*model.PointTransaction, error) {
	trans, err := s.Credit(ctx, Mutation{
		UserID:      userID,
		Amount:      amount,
		Type:        model.TransactionTypeAdminGrant,
		Description: fmt.Sprintf("granted by admin %d: %s", adminID, reason),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("admin points grant", "admin_id", adminID, "user_id", userID, "amount", amount, "transaction_no", trans.TransactionNo)
	return trans, nil
}

// InvalidateCache drops the cached projection. Callers of the Tx forms call it after commit.
func (s *BalanceService) InvalidateCache(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		logger.Warn("balance cache invalidate failed", "user_id", userID, "error", err)
	}
}

// GetBalance reads through the cache. A first-time user gets a zero balance row.
// The generation is taken before the row so a fill racing a committed mutation is dropped.
func (s *BalanceService) GetBalance(ctx context.Context, userID int64) (*model.PointBalance, error) {
	fill := false
	var generation string
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		if err != nil {
			logger.Warn("balance cache read failed", "user_id", userID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
		if generation, err = s.cache.Generation(ctx, userID); err != nil {
			logger.Warn("balance cache generation read failed", "user_id", userID, "error", err)
		} else {
			fill = true
		}
	}

	balance, err := s.balanceRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	if fill {
		written, err := s.cache.Fill(ctx, balance, generation)
		if err != nil {
			logger.Warn("balance cache write failed", "user_id", userID, "error", err)
		} else if !written {
			logger.Debug("balance cache fill skipped, invalidated meanwhile", "user_id", userID)
		}
	}
	return balance, nil
}

// ListTransactions returns the newest rows first, limit clamped to [1, max_transactions_limit].
func (s *BalanceService) ListTransactions(ctx context.Context, userID int64, limit int) ([]*model.PointTransaction, error) {
	maxLimit := s.cfg.Business.MaxTransactionsLimit
	if limit < 1 {
		limit = 1
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return s.transactionRepo.ListByUserID(ctx, userID, limit)
}

// LedgerReport is the result of replaying a user's ledger against the balance row.
type LedgerReport struct {
	UserID     int64    `json:"user_id"`
	Balance    int64    `json:"balance"`
	LedgerSum  int64    `json:"ledger_sum"`
	Rows       int      `json:"rows"`
	Consistent bool     `json:"consistent"`
	Problems   []string `json:"problems,omitempty"`
}

// VerifyLedger replays the user's ledger and compares it with the stored balance.
func (s *BalanceService) VerifyLedger(ctx context.Context, userID int64) (*LedgerReport, error) {
	var stored int64
	balance, err := s.balanceRepo.GetByUserID(ctx, nil, userID)
	switch {
	case err == nil:
		stored = balance.Balance
	case errors.Is(err, repository.ErrBalanceNotFound):
	default:
		return nil, err
	}

	rows, err := s.transactionRepo.ListAllByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &LedgerReport{UserID: userID, Balance: stored, Rows: len(rows)}
	var running int64
	for _, row := range rows {
		if row.BalanceBefore != running {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%s: balance_before %d, running sum %d", row.TransactionNo, row.BalanceBefore, running))
		}
		running += row.Amount
		if row.BalanceAfter != running {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%s: balance_after %d, running sum %d", row.TransactionNo, row.BalanceAfter, running))
		}
	}
	report.LedgerSum = running

	if running != stored {
		report.Problems = append(report.Problems, fmt.Sprintf("ledger sum %d != balance %d", running, stored))
	}
	if n := len(rows); n > 0 && rows[n-1].BalanceAfter != stored {
		report.Problems = append(report.Problems,
			fmt.Sprintf("last balance_after %d != balance %d", rows[n-1].BalanceAfter, stored))
	}
	report.Consistent = len(report.Problems) == 0
	return report, nil
}
