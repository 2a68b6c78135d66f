package service

import (
	"context"
	"errors"
	"time"

	"fandry/internal/model"
	"fandry/internal/repository"

	"gorm.io/gorm"
)

type PricingService struct {
	contentRepo  *repository.ContentRepository
	purchaseRepo *repository.PurchaseRepository
	balances     *BalanceService
	now          func() time.Time
}

// NewPricingService reads balances through balances so options reflect the cached projection.
func NewPricingService(db *gorm.DB, balances *BalanceService) *PricingService {
	return &PricingService{
		contentRepo:  repository.NewContentRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		balances:     balances,
		now:          time.Now,
	}
}

type PurchaseOptions struct {
	ContentID        int64    `json:"content_id"`
	Kind             string   `json:"kind"`
	Price            int64    `json:"price"`
	AlreadyPurchased bool     `json:"already_purchased"`
	UserBalance      int64    `json:"user_balance"`
	IsAdult          bool     `json:"is_adult"`
	AllowedMethods   []string `json:"allowed_methods"`
}

// AllowedMethods applies the method rules: anonymous callers cannot use points, and adult
// content is points only. Affordability is not a rule here; the orchestrator enforces it.
func AllowedMethods(authenticated, isAdult bool) []string {
	switch {
	case isAdult && !authenticated:
		return []string{}
	case isAdult:
		return []string{model.PaymentMethodPoints}
	case !authenticated:
		return []string{model.PaymentMethodCard}
	default:
		return []string{model.PaymentMethodPoints, model.PaymentMethodCard, model.PaymentMethodHybrid}
	}
}

func methodAllowed(method string, authenticated, isAdult bool) bool {
	for _, m := range AllowedMethods(authenticated, isAdult) {
		if m == method {
			return true
		}
	}
	return false
}

// LoadPurchasable returns content that can be bought: published, and either a post with a
// positive price or a membership plan.
func (s *PricingService) LoadPurchasable(ctx context.Context, tx *gorm.DB, contentID int64) (*model.Content, error) {
	content, err := s.contentRepo.GetByID(ctx, tx, contentID)
	if err != nil {
		if errors.Is(err, repository.ErrContentNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	if !content.IsPublished {
		return nil, ErrContentNotFound
	}
	if content.Kind != model.ContentKindPost && content.Kind != model.ContentKindMembership {
		return nil, ErrContentNotPurchasable
	}
	if content.Price <= 0 {
		return nil, ErrContentNotPurchasable
	}
	return content, nil
}

// ResolvePurchaseOptions answers what userID may do with contentID. userID is nil for anonymous callers.
func (s *PricingService) ResolvePurchaseOptions(ctx context.Context, userID *int64, contentID int64) (*PurchaseOptions, error) {
	content, err := s.LoadPurchasable(ctx, nil, contentID)
	if err != nil {
		return nil, err
	}

	opts := &PurchaseOptions{
		ContentID:      content.ID,
		Kind:           content.Kind,
		Price:          content.Price,
		IsAdult:        content.IsAdult,
		AllowedMethods: AllowedMethods(userID != nil, content.IsAdult),
	}
	if userID == nil {
		return opts, nil
	}

	owned, err := s.purchaseRepo.ExistsByTarget(ctx, nil, *userID, content.TargetKey(s.now()))
	if err != nil {
		return nil, err
	}
	opts.AlreadyPurchased = owned

	balance, err := s.balances.GetBalance(ctx, *userID)
	if err != nil {
		return nil, err
	}
	opts.UserBalance = balance.Balance
	return opts, nil
}
