// Package processor is the boundary to the external card processor. The orchestrator only
// sees these types; the Stripe implementation lives in stripe.go.
package processor

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidSignature = errors.New("processor: invalid webhook signature")
	ErrSessionNotFound  = errors.New("processor: session not found")
)

type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

type EventType string

const (
	EventSessionCompleted EventType = "session.completed"
	EventSessionCanceled  EventType = "session.canceled"
	EventIgnored          EventType = "ignored"
)

type SessionRequest struct {
	OrderNo        string
	Description    string
	Amount         int64
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
	IdempotencyKey string
}

type Session struct {
	ID        string
	URL       string
	OrderNo   string
	Amount    int64
	Status    SessionStatus
	ExpiresAt time.Time
}

// Event is a verified webhook delivery. RawType keeps the processor's own event name.
type Event struct {
	ID        string
	Type      EventType
	RawType   string
	SessionID string
	OrderNo   string
	Payload   []byte
}

type Processor interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// ExpireSession closes an open session. A session that already completed is returned
	// as completed instead of failing.
	ExpireSession(ctx context.Context, sessionID string) (*Session, error)
	ParseEvent(payload []byte, signatureHeader string) (*Event, error)
}
