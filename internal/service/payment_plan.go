package service

import (
	"fmt"

	"fandry/internal/model"
)

// PaymentPlan says how a price is split between points and card. It is one of
// PointsPlan, CardPlan or HybridPlan.
type PaymentPlan interface {
	Method() string
	Points() int64
	Card() int64
	isPaymentPlan()
}

type PointsPlan struct {
	Amount int64
}

type CardPlan struct {
	Amount int64
}

// HybridPlan has both legs strictly positive; NewPaymentPlan collapses the other cases.
type HybridPlan struct {
	PointsAmount int64
	CardAmount   int64
}

func (PointsPlan) Method() string { return model.PaymentMethodPoints }
func (p PointsPlan) Points() int64 { return p.Amount }
func (PointsPlan) Card() int64 { return 0 }
func (PointsPlan) isPaymentPlan() {}

func (CardPlan) Method() string { return model.PaymentMethodCard }
func (CardPlan) Points() int64 { return 0 }
func (p CardPlan) Card() int64 { return p.Amount }
func (CardPlan) isPaymentPlan() {}

func (HybridPlan) Method() string { return model.PaymentMethodHybrid }
func (p HybridPlan) Points() int64 { return p.PointsAmount }
func (p HybridPlan) Card() int64 { return p.CardAmount }
func (HybridPlan) isPaymentPlan() {}

// NewPaymentPlan validates the caller's choice against price and balance. For hybrid,
// pointsToUse must lie in [0, min(balance, price)]; the edges collapse to card or points.
func NewPaymentPlan(method string, price, pointsToUse, balance int64) (PaymentPlan, error) {
	if price <= 0 {
		return nil, ErrInvalidAmount
	}

	switch method {
	case model.PaymentMethodPoints:
		return PointsPlan{Amount: price}, nil
	case model.PaymentMethodCard:
		return CardPlan{Amount: price}, nil
	case model.PaymentMethodHybrid:
		if pointsToUse < 0 || pointsToUse > price {
			return nil, fmt.Errorf("%w: points_to_use must be within [0, %d]", ErrInvalidAmount, price)
		}
		if pointsToUse > balance {
			return nil, ErrInsufficientBalance
		}
		switch pointsToUse {
		case price:
			return PointsPlan{Amount: price}, nil
		case 0:
			return CardPlan{Amount: price}, nil
		}
		return HybridPlan{PointsAmount: pointsToUse, CardAmount: price - pointsToUse}, nil
	}
	return nil, ErrInvalidPaymentMethod
}
