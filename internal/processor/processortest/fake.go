// Package processortest provides an in-memory processor.Processor for tests.
package processortest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"fandry/internal/processor"
)

const testSignature = "valid"

var ErrUnavailable = errors.New("processortest: processor unavailable")

// Fake records sessions in memory. Set FailCreate or FailExpire to simulate outages.
// Webhook payloads are the JSON encoding of processor.Event, accepted when the signature header is "valid".
type Fake struct {
	mu         sync.Mutex
	seq        int
	sessions   map[string]*processor.Session
	Requests   []processor.SessionRequest
	FailCreate bool
	FailExpire bool
}

func New() *Fake {
	return &Fake{sessions: make(map[string]*processor.Session)}
}

func (f *Fake) Name() string {
	return "fake"
}

func (f *Fake) CreateSession(_ context.Context, req processor.SessionRequest) (*processor.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCreate {
		return nil, ErrUnavailable
	}
	f.Requests = append(f.Requests, req)
	f.seq++
	s := &processor.Session{
		ID:        fmt.Sprintf("cs_test_%d", f.seq),
		URL:       fmt.Sprintf("https://checkout.test/pay/%d", f.seq),
		OrderNo:   req.OrderNo,
		Amount:    req.Amount,
		Status:    processor.SessionOpen,
		ExpiresAt: req.ExpiresAt,
	}
	f.sessions[s.ID] = s
	out := *s
	return &out, nil
}

func (f *Fake) ExpireSession(_ context.Context, sessionID string) (*processor.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailExpire {
		return nil, ErrUnavailable
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, processor.ErrSessionNotFound
	}
	if s.Status == processor.SessionOpen {
		s.Status = processor.SessionExpired
	}
	out := *s
	return &out, nil
}

// Complete marks a session paid, as if the customer finished the hosted checkout.
func (f *Fake) Complete(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.Status = processor.SessionCompleted
	}
}

func (f *Fake) Session(sessionID string) (processor.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return processor.Session{}, false
	}
	return *s, true
}

func (f *Fake) ParseEvent(payload []byte, signatureHeader string) (*processor.Event, error) {
	if signatureHeader != testSignature {
		return nil, processor.ErrInvalidSignature
	}
	var event processor.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	event.Payload = payload
	return &event, nil
}

// SignedEvent builds a payload and signature header that ParseEvent accepts.
func SignedEvent(id string, eventType processor.EventType, sessionID string) ([]byte, string) {
	return SignedOrderEvent(id, eventType, sessionID, "")
}

// SignedOrderEvent is SignedEvent with the order reference the session was opened with.
func SignedOrderEvent(id string, eventType processor.EventType, sessionID, orderNo string) ([]byte, string) {
	payload, _ := json.Marshal(processor.Event{
		ID:        id,
		Type:      eventType,
		RawType:   string(eventType),
		SessionID: sessionID,
		OrderNo:   orderNo,
	})
	return payload, testSignature
}
