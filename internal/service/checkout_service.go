package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fandry/internal/config"
	"fandry/internal/infrastructure/lock"
	"fandry/internal/metrics"
	"fandry/internal/model"
	"fandry/internal/processor"
	"fandry/internal/repository"
	"fandry/pkg/idgen"
	"fandry/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const processorCallTimeout = 20 * time.Second

// Ledger is the part of the balance store the orchestrator writes through.
type Ledger interface {
	DebitTx(ctx context.Context, tx *gorm.DB, m Mutation) (*model.PointTransaction, error)
	CreditTx(ctx context.Context, tx *gorm.DB, m Mutation) (*model.PointTransaction, error)
	InvalidateCache(ctx context.Context, userID int64)
}

// CheckoutService drives checkout orders from INITIATED to a terminal state.
type CheckoutService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	processor       processor.Processor
	ledger          Ledger
	pricing         *PricingService
	entitlements    *EntitlementService
	orderRepo       *repository.OrderRepository
	balanceRepo     *repository.BalanceRepository
	contentRepo     *repository.ContentRepository
	purchaseRepo    *repository.PurchaseRepository
	sessionRepo     *repository.SessionRepository
	eventRepo       *repository.EventRepository
	discrepancyRepo *repository.DiscrepancyRepository
	transactionRepo *repository.TransactionRepository
	now             func() time.Time
}

// NewCheckoutService wires the orchestrator. redisClient may be nil, in which case only row
// locks serialize a user's checkouts.
func NewCheckoutService(
	db *gorm.DB,
	redisClient *redis.Client,
	cfg *config.Config,
	proc processor.Processor,
	ledger Ledger,
	pricing *PricingService,
	entitlements *EntitlementService,
) *CheckoutService {
	return &CheckoutService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		processor:       proc,
		ledger:          ledger,
		pricing:         pricing,
		entitlements:    entitlements,
		orderRepo:       repository.NewOrderRepository(db),
		balanceRepo:     repository.NewBalanceRepository(db),
		contentRepo:     repository.NewContentRepository(db),
		purchaseRepo:    repository.NewPurchaseRepository(db),
		sessionRepo:     repository.NewSessionRepository(db),
		eventRepo:       repository.NewEventRepository(db),
		discrepancyRepo: repository.NewDiscrepancyRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		now:             time.Now,
	}
}

// CheckoutRequest is one purchase attempt. IdempotencyKey scopes replays to the user.
type CheckoutRequest struct {
	UserID         int64
	IdempotencyKey string
	Purpose        string // content or points_package
	ContentID      int64
	PackageID      string
	Method         string
	PointsToUse    int64 // hybrid only
	SuccessURL     string
	CancelURL      string
}

// CheckoutResult carries either a completed purchase or a redirect URL, never both.
type CheckoutResult struct {
	OrderNo       string                `json:"order_no"`
	Status        string                `json:"status"`
	Purpose       string                `json:"purpose"`
	Method        string                `json:"method"`
	Price         int64                 `json:"price"`
	PointsAmount  int64                 `json:"points_amount"`
	CardAmount    int64                 `json:"card_amount"`
	CreditPoints  int64                 `json:"credit_points,omitempty"`
	RedirectURL   string                `json:"redirect_url,omitempty"`
	Purchase      *model.PurchaseRecord `json:"purchase,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
}

func resultFromOrder(order *model.CheckoutOrder, purchase *model.PurchaseRecord) *CheckoutResult {
	result := &CheckoutResult{
		OrderNo:       order.OrderNo,
		Status:        order.Status,
		Purpose:       order.Purpose,
		Method:        order.Method,
		Price:         order.Price,
		PointsAmount:  order.PointsAmount,
		CardAmount:    order.CardAmount,
		CreditPoints:  order.CreditPoints,
		FailureReason: order.FailureReason,
	}
	switch order.Status {
	case model.OrderStatusCompleted:
		result.Purchase = purchase
	case model.OrderStatusProcessorRedirected:
		result.RedirectURL = order.RedirectURL
	}
	return result
}

// target is what a checkout buys, resolved before any write.
type target struct {
	content   *model.Content
	pkg       config.PointPackage
	targetKey string
	price     int64
}

// PurchaseWithPoints buys content with points only and settles in one transaction.
func (s *CheckoutService) PurchaseWithPoints(ctx context.Context, userID, contentID int64, key string) (*CheckoutResult, error) {
	return s.Checkout(ctx, CheckoutRequest{
		UserID:         userID,
		IdempotencyKey: key,
		Purpose:        model.OrderPurposeContent,
		ContentID:      contentID,
		Method:         model.PaymentMethodPoints,
	})
}

// CreateCardCheckout opens a processor session for the full price.
func (s *CheckoutService) CreateCardCheckout(ctx context.Context, userID, contentID int64, successURL, cancelURL, key string) (*CheckoutResult, error) {
	return s.Checkout(ctx, CheckoutRequest{
		UserID:         userID,
		IdempotencyKey: key,
		Purpose:        model.OrderPurposeContent,
		ContentID:      contentID,
		Method:         model.PaymentMethodCard,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
	})
}

// CreateHybridCheckout reserves pointsToUse and opens a processor session for the rest.
func (s *CheckoutService) CreateHybridCheckout(ctx context.Context, userID, contentID, pointsToUse int64, successURL, cancelURL, key string) (*CheckoutResult, error) {
	return s.Checkout(ctx, CheckoutRequest{
		UserID:         userID,
		IdempotencyKey: key,
		Purpose:        model.OrderPurposeContent,
		ContentID:      contentID,
		Method:         model.PaymentMethodHybrid,
		PointsToUse:    pointsToUse,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
	})
}

// CreatePointsCheckout sells a configured points package for card money.
func (s *CheckoutService) CreatePointsCheckout(ctx context.Context, userID int64, packageID, successURL, cancelURL, key string) (*CheckoutResult, error) {
	return s.Checkout(ctx, CheckoutRequest{
		UserID:         userID,
		IdempotencyKey: key,
		Purpose:        model.OrderPurposePointsPackage,
		PackageID:      packageID,
		Method:         model.PaymentMethodCard,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
	})
}

// Checkout is the single entry point for content and package purchases.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (result *CheckoutResult, err error) {
	start := time.Now()
	defer func() {
		metrics.CheckoutDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
		metrics.CheckoutTotal.WithLabelValues(req.Method, outcome(result, err)).Inc()
	}()

	return s.checkout(ctx, req, true)
}

// checkout runs one attempt. canReplace allows a single swap of an open redirect for the same
// target that used a different split.
func (s *CheckoutService) checkout(ctx context.Context, req CheckoutRequest, canReplace bool) (*CheckoutResult, error) {
	if req.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	existing, err := s.orderRepo.GetByRequestID(ctx, nil, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if existing != nil {
		return s.replay(ctx, existing, req)
	}

	tgt, err := s.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	balance, err := s.balanceRepo.GetOrCreate(ctx, nil, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load point balance: %w", err)
	}
	plan, err := NewPaymentPlan(req.Method, tgt.price, req.PointsToUse, balance.Balance)
	if err != nil {
		return nil, err
	}
	if plan.Points() > balance.Balance {
		return nil, ErrInsufficientBalance
	}

	order := &model.CheckoutOrder{
		OrderNo:      idgen.GenerateOrderNo(),
		RequestID:    req.IdempotencyKey,
		UserID:       req.UserID,
		Purpose:      req.Purpose,
		TargetKey:    tgt.targetKey,
		PackageID:    tgt.pkg.ID,
		CreditPoints: tgt.pkg.Points,
		Method:       plan.Method(),
		Price:        tgt.price,
		PointsAmount: plan.Points(),
		CardAmount:   plan.Card(),
		Status:       model.OrderStatusInitiated,
	}
	if tgt.content != nil {
		contentID := tgt.content.ID
		order.ContentID = &contentID
	}

	var result *CheckoutResult
	var replayed, open *model.CheckoutOrder
	err = s.withUserLock(ctx, req.UserID, func() error {
		// the first lookup raced with a request holding the lock
		again, err := s.orderRepo.GetByRequestID(ctx, nil, req.UserID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if again != nil {
			replayed = again
			return nil
		}

		// one payable session per target: a new idempotency key must not open a second one
		if order.TargetKey != "" {
			open, err = s.orderRepo.GetOpenByTarget(ctx, nil, req.UserID, order.TargetKey)
			if err != nil {
				return err
			}
			if open != nil {
				return nil
			}
		}

		if _, ok := plan.(PointsPlan); ok {
			result, err = s.settleWithPoints(ctx, order, tgt)
			return err
		}
		return s.reserve(ctx, order)
	})
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, ErrCheckoutBusy
		}
		if errors.Is(err, repository.ErrDuplicateRequest) {
			if again, qerr := s.orderRepo.GetByRequestID(ctx, nil, req.UserID, req.IdempotencyKey); qerr == nil && again != nil {
				return s.replay(ctx, again, req)
			}
		}
		return nil, err
	}
	if replayed != nil {
		return s.replay(ctx, replayed, req)
	}
	if open != nil {
		return s.resumeOpen(ctx, open, order, req, canReplace)
	}
	if result != nil {
		return result, nil
	}

	// Local reservation is committed and the lock released; only now talk to the processor.
	return s.redirect(ctx, order, tgt, req)
}

func (s *CheckoutService) resolveTarget(ctx context.Context, req CheckoutRequest) (*target, error) {
	switch req.Purpose {
	case model.OrderPurposeContent:
		content, err := s.pricing.LoadPurchasable(ctx, nil, req.ContentID)
		if err != nil {
			return nil, err
		}
		if !methodAllowed(req.Method, true, content.IsAdult) {
			if content.IsAdult {
				return nil, ErrMethodForbidden
			}
			return nil, ErrInvalidPaymentMethod
		}
		key := content.TargetKey(s.now())
		owned, err := s.entitlements.HasPurchased(ctx, req.UserID, key)
		if err != nil {
			return nil, err
		}
		if owned {
			return nil, ErrAlreadyPurchased
		}
		return &target{content: content, targetKey: key, price: content.Price}, nil

	case model.OrderPurposePointsPackage:
		pkg, ok := s.cfg.Business.FindPackage(req.PackageID)
		if !ok {
			return nil, ErrPackageNotFound
		}
		if req.Method != model.PaymentMethodCard {
			return nil, ErrInvalidPaymentMethod
		}
		return &target{pkg: pkg, price: pkg.Price}, nil
	}
	return nil, fmt.Errorf("%w: unknown purpose %q", ErrInvalidPaymentMethod, req.Purpose)
}

// settleWithPoints is the points-only path: order, debit, entitlement and notification commit together.
func (s *CheckoutService) settleWithPoints(ctx context.Context, order *model.CheckoutOrder, tgt *target) (*CheckoutResult, error) {
	var purchase *model.PurchaseRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return err
		}
		if err := s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusInitiated, model.OrderStatusPointsSettling, nil); err != nil {
			return err
		}

		_, err := s.ledger.DebitTx(ctx, tx, Mutation{
			UserID:      order.UserID,
			Amount:      order.Price,
			Type:        model.TransactionTypePostPurchase,
			Description: describe(tgt),
			OrderNo:     order.OrderNo,
		})
		if err != nil {
			return err
		}

		purchase, err = s.entitlements.Grant(ctx, tx, order.UserID, tgt.content, GrantDetails{
			OrderNo:       order.OrderNo,
			TargetKey:     order.TargetKey,
			Amount:        order.Price,
			PointsPortion: order.Price,
			Method:        order.Method,
		})
		if err != nil {
			return err
		}

		return s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusPointsSettling, model.OrderStatusCompleted, nil)
	})
	if err != nil {
		return nil, err
	}
	s.ledger.InvalidateCache(ctx, order.UserID)

	order.Status = model.OrderStatusCompleted
	logger.Info("points purchase completed", "order_no", order.OrderNo, "user_id", order.UserID, "target", order.TargetKey, "amount", order.Price)
	return resultFromOrder(order, purchase), nil
}

// reserve creates the card or hybrid order and, for hybrid, debits the points leg.
func (s *CheckoutService) reserve(ctx context.Context, order *model.CheckoutOrder) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return err
		}
		if order.PointsAmount == 0 {
			return nil
		}
		_, err := s.ledger.DebitTx(ctx, tx, Mutation{
			UserID:      order.UserID,
			Amount:      order.PointsAmount,
			Type:        model.TransactionTypePostPurchase,
			Description: fmt.Sprintf("points share of %s", order.TargetKey),
			OrderNo:     order.OrderNo,
		})
		return err
	})
	if err != nil {
		return err
	}
	if order.PointsAmount > 0 {
		s.ledger.InvalidateCache(ctx, order.UserID)
	}
	return nil
}

// redirect opens the processor session for the card leg. On failure the reservation is compensated.
func (s *CheckoutService) redirect(ctx context.Context, order *model.CheckoutOrder, tgt *target, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processorCallTimeout)
	defer cancel()

	expiresAt := s.now().UTC().Add(time.Duration(s.cfg.Business.CheckoutSessionTTLHours) * time.Hour)
	session, err := s.processor.CreateSession(ctx, processor.SessionRequest{
		OrderNo:        order.OrderNo,
		Description:    describe(tgt),
		Amount:         order.CardAmount,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		ExpiresAt:      expiresAt,
		IdempotencyKey: order.OrderNo,
	})
	if err != nil {
		logger.Error("processor session failed", "order_no", order.OrderNo, "error", err)
		cerr := s.compensate(ctx, order, model.OrderStatusFailed, "processor error: "+err.Error())
		if errors.Is(cerr, ErrCompensationFailed) {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.sessionRepo.Create(ctx, tx, &model.CheckoutSession{
			SessionID:   session.ID,
			OrderNo:     order.OrderNo,
			Amount:      order.CardAmount,
			Status:      model.SessionStatusPending,
			RedirectURL: session.URL,
			ExpiresAt:   &expiresAt,
		})
		if err != nil {
			return err
		}
		return s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusInitiated, model.OrderStatusProcessorRedirected,
			map[string]interface{}{
				"processor_session_id": session.ID,
				"redirect_url":         session.URL,
			})
	})
	if err != nil {
		// The sweep already failed this order, or the database is gone. Either way the
		// session must not stay payable.
		logger.Error("attach processor session failed", "order_no", order.OrderNo, "session_id", session.ID, "error", err)
		if _, xerr := s.processor.ExpireSession(ctx, session.ID); xerr != nil {
			logger.Error("expire orphan session failed", "session_id", session.ID, "error", xerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}

	sessionID := session.ID
	order.Status = model.OrderStatusProcessorRedirected
	order.ProcessorSessionID = &sessionID
	order.RedirectURL = session.URL
	logger.Info("checkout redirected", "order_no", order.OrderNo, "method", order.Method, "session_id", session.ID,
		"points", order.PointsAmount, "card", order.CardAmount)
	return resultFromOrder(order, nil), nil
}

// resumeOpen handles a checkout for a target that already has an unsettled order. A redirect with
// the same split is handed back as is. A different split replaces it once the old session is
// expired at the processor, so the customer never holds two payable sessions for one target.
func (s *CheckoutService) resumeOpen(ctx context.Context, open, order *model.CheckoutOrder, req CheckoutRequest, canReplace bool) (*CheckoutResult, error) {
	if open.Status != model.OrderStatusProcessorRedirected || open.ProcessorSessionID == nil {
		// another request is between reservation and redirect
		return nil, ErrCheckoutBusy
	}
	if open.Method == order.Method && open.PointsAmount == order.PointsAmount {
		logger.Info("open checkout reused", "order_no", open.OrderNo, "request_id", req.IdempotencyKey)
		return resultFromOrder(open, nil), nil
	}
	if !canReplace {
		return nil, ErrCheckoutBusy
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processorCallTimeout)
	defer cancel()
	action, err := s.expireSession(pctx, open, "replaced by a checkout with another payment split")
	if err != nil {
		if errors.Is(err, ErrCompensationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	if action == "confirmed" {
		// the old session was paid before it could be expired
		return nil, ErrAlreadyPurchased
	}
	logger.Info("open checkout replaced", "order_no", open.OrderNo, "old_method", open.Method, "method", order.Method)
	return s.checkout(ctx, req, false)
}

// replay answers a request whose idempotency key already produced an order.
func (s *CheckoutService) replay(ctx context.Context, order *model.CheckoutOrder, req CheckoutRequest) (*CheckoutResult, error) {
	if order.Purpose != req.Purpose {
		return nil, ErrIdempotencyConflict
	}
	if req.Purpose == model.OrderPurposeContent && (order.ContentID == nil || *order.ContentID != req.ContentID) {
		return nil, ErrIdempotencyConflict
	}
	if req.Purpose == model.OrderPurposePointsPackage && order.PackageID != req.PackageID {
		return nil, ErrIdempotencyConflict
	}

	var purchase *model.PurchaseRecord
	if order.Status == model.OrderStatusCompleted {
		var err error
		purchase, err = s.purchaseRepo.GetByOrderNo(ctx, nil, order.OrderNo)
		if err != nil {
			return nil, err
		}
	}
	logger.Info("checkout replayed", "order_no", order.OrderNo, "request_id", order.RequestID, "status", order.Status)
	return resultFromOrder(order, purchase), nil
}

// GetOrder lets the owner of an order poll its status.
func (s *CheckoutService) GetOrder(ctx context.Context, userID int64, orderNo string) (*CheckoutResult, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, nil, orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}

	var purchase *model.PurchaseRecord
	if order.Status == model.OrderStatusCompleted {
		purchase, err = s.purchaseRepo.GetByOrderNo(ctx, nil, order.OrderNo)
		if err != nil {
			return nil, err
		}
	}
	return resultFromOrder(order, purchase), nil
}

// ListOrders pages through the user's orders, newest first. An out of range pageSize
// falls back to 20.
func (s *CheckoutService) ListOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.CheckoutOrder, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > s.cfg.Business.MaxTransactionsLimit {
		pageSize = 20
	}
	return s.orderRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *CheckoutService) withUserLock(ctx context.Context, userID int64, fn func() error) error {
	if s.redisClient == nil {
		return fn()
	}
	return lock.WithUserLock(ctx, s.redisClient, userID, uuid.NewString(), fn)
}

func describe(tgt *target) string {
	if tgt.content != nil {
		return tgt.content.Title
	}
	return fmt.Sprintf("%d points", tgt.pkg.Points)
}

func outcome(result *CheckoutResult, err error) string {
	if err != nil {
		if code := Code(err); code != "" {
			return strings.ToLower(code)
		}
		return "error"
	}
	if result == nil {
		return "unknown"
	}
	return strings.ToLower(result.Status)
}
