package service

import (
	"errors"
)

// Business and validation errors returned by the services. Handlers turn them into
// response codes with Code; anything else is an infrastructure error.
var (
	ErrInsufficientBalance   = errors.New("insufficient point balance")
	ErrAlreadyPurchased      = errors.New("content already purchased")
	ErrMethodForbidden       = errors.New("payment method not allowed for adult content")
	ErrProcessor             = errors.New("payment processor unavailable")
	ErrCompensationFailed    = errors.New("points refund failed; queued for manual reconciliation")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidPaymentMethod  = errors.New("invalid payment method")
	ErrInvalidTransaction    = errors.New("invalid ledger transaction type")
	ErrContentNotFound       = errors.New("content not found")
	ErrContentNotPurchasable = errors.New("content is not purchasable")
	ErrUnauthenticated       = errors.New("authentication required")
	ErrOrderNotFound         = errors.New("order not found")
	ErrCheckoutBusy          = errors.New("another checkout of this user is in progress")
	ErrPackageNotFound       = errors.New("points package not found")
	ErrIdempotencyConflict   = errors.New("idempotency key reused for a different request")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ErrAlreadyPurchased, "ALREADY_PURCHASED"},
	{ErrMethodForbidden, "ADULT_CONTENT_METHOD_FORBIDDEN"},
	{ErrProcessor, "PROCESSOR_ERROR"},
	{ErrCompensationFailed, "COMPENSATION_FAILED"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrInvalidPaymentMethod, "INVALID_PAYMENT_METHOD"},
	{ErrInvalidTransaction, "INVALID_TRANSACTION_TYPE"},
	{ErrContentNotFound, "CONTENT_NOT_FOUND"},
	{ErrContentNotPurchasable, "CONTENT_NOT_PURCHASABLE"},
	{ErrUnauthenticated, "UNAUTHENTICATED"},
	{ErrOrderNotFound, "ORDER_NOT_FOUND"},
	{ErrCheckoutBusy, "CHECKOUT_BUSY"},
	{ErrPackageNotFound, "PACKAGE_NOT_FOUND"},
	{ErrIdempotencyConflict, "IDEMPOTENCY_CONFLICT"},
	{ErrInvalidSignature, "INVALID_SIGNATURE"},
}

// Code returns the machine readable code of a known error, or "" for infrastructure errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return ""
}
