package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fandry/internal/config"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const ProviderStripe = "stripe"

type StripeProcessor struct {
	api           *client.API
	webhookSecret string
	currency      string
}

func NewStripeProcessor(cfg *config.StripeConfig) *StripeProcessor {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeProcessor{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
	}
}

func (p *StripeProcessor) Name() string {
	return ProviderStripe
}

func (p *StripeProcessor) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderNo),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.currency),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("order_no", req.OrderNo)
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create session: %w", err)
	}
	return toSession(s), nil
}

func (p *StripeProcessor) ExpireSession(ctx context.Context, sessionID string) (*Session, error) {
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	s, err := p.api.CheckoutSessions.Get(sessionID, getParams)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("stripe get session: %w", err)
	}
	if s.Status != stripe.CheckoutSessionStatusOpen {
		return toSession(s), nil
	}

	expireParams := &stripe.CheckoutSessionExpireParams{}
	expireParams.Context = ctx
	s, err = p.api.CheckoutSessions.Expire(sessionID, expireParams)
	if err != nil {
		return nil, fmt.Errorf("stripe expire session: %w", err)
	}
	return toSession(s), nil
}

func (p *StripeProcessor) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{
		ID:      event.ID,
		RawType: string(event.Type),
		Type:    EventIgnored,
		Payload: payload,
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
	default:
		return out, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	out.SessionID = s.ID
	out.OrderNo = s.ClientReferenceID

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		// delayed payment methods complete the session before the money arrives
		if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusUnpaid {
			out.Type = EventSessionCompleted
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		out.Type = EventSessionCompleted
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		out.Type = EventSessionCanceled
	}
	return out, nil
}

func toSession(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:      s.ID,
		URL:     s.URL,
		OrderNo: s.ClientReferenceID,
		Amount:  s.AmountTotal,
		Status:  SessionOpen,
	}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	switch s.Status {
	case stripe.CheckoutSessionStatusComplete:
		if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusUnpaid {
			out.Status = SessionCompleted
		}
	case stripe.CheckoutSessionStatusExpired:
		out.Status = SessionExpired
	}
	return out
}
