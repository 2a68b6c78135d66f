package processor

import (
	"testing"
	"time"

	"fandry/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test"

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func newTestStripe() *StripeProcessor {
	return NewStripeProcessor(&config.StripeConfig{
		SecretKey:     "sk_test_x",
		WebhookSecret: testWebhookSecret,
		Currency:      "jpy",
	})
}

func TestStripeParseEvent_Completed(t *testing.T) {
	header, payload := signed(t, `{"id":"evt_1","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"ORD1",
		"payment_status":"paid","status":"complete"}}}`)

	event, err := newTestStripe().ParseEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventSessionCompleted, event.Type)
	assert.Equal(t, "cs_1", event.SessionID)
	assert.Equal(t, "ORD1", event.OrderNo)
}

func TestStripeParseEvent_UnpaidCompletionIsIgnored(t *testing.T) {
	header, payload := signed(t, `{"id":"evt_2","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_2","object":"checkout.session","payment_status":"unpaid","status":"complete"}}}`)

	event, err := newTestStripe().ParseEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, event.Type)
	assert.Equal(t, "cs_2", event.SessionID)
}

func TestStripeParseEvent_Expired(t *testing.T) {
	header, payload := signed(t, `{"id":"evt_3","object":"event","type":"checkout.session.expired",
		"data":{"object":{"id":"cs_3","object":"checkout.session","status":"expired"}}}`)

	event, err := newTestStripe().ParseEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, EventSessionCanceled, event.Type)
}

func TestStripeParseEvent_OtherTypesIgnored(t *testing.T) {
	header, payload := signed(t, `{"id":"evt_4","object":"event","type":"customer.created",
		"data":{"object":{"id":"cus_1","object":"customer"}}}`)

	event, err := newTestStripe().ParseEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, event.Type)
	assert.Equal(t, "customer.created", event.RawType)
}

func TestStripeParseEvent_BadSignature(t *testing.T) {
	_, payload := signed(t, `{"id":"evt_5","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)

	_, err := newTestStripe().ParseEvent(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
