package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/playgroundx/settlement/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"charge.succeeded","data":{"object":{}}}`)
	ts := time.Now().Unix()

	headers := http.Header{}
	headers.Set("Stripe-Signature", SignatureHeader(secret, payload, ts))

	adapter := &Adapter{webhookSecret: secret}
	require.NoError(t, adapter.Verify(context.Background(), payload, headers))

	headers.Set("Stripe-Signature", SignatureHeader("wrong", payload, ts))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, headers), paymentdomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, http.Header{}), paymentdomain.ErrInvalidSignature)
}

func TestFactoryRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: provider, Config: map[string]any{}})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)

	_, err = NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: provider, Config: map[string]any{"webhook_secret": "  "}})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestParseCharges(t *testing.T) {
	created := int64(1775034000)
	metadata := map[string]any{"creator_id": "creator-1", "fan_id": "fan-9", "event_type": "tip"}

	tests := []struct {
		name    string
		event   map[string]any
		wantTxn string
		amount  int64
	}{
		{
			name: "payment intent",
			event: map[string]any{
				"id": "evt_pi", "type": "payment_intent.succeeded", "created": created,
				"data": map[string]any{"object": map[string]any{
					"id": "pi_1", "amount": 2500, "amount_received": 2000, "currency": "usd", "metadata": metadata,
				}},
			},
			wantTxn: "pi_1",
			amount:  2000,
		},
		{
			name: "charge with intent",
			event: map[string]any{
				"id": "evt_ch", "type": "charge.succeeded", "created": created,
				"data": map[string]any{"object": map[string]any{
					"id": "ch_1", "payment_intent": "pi_1", "amount": 2000, "currency": "usd", "metadata": metadata,
				}},
			},
			wantTxn: "pi_1",
			amount:  2000,
		},
		{
			name: "bare charge",
			event: map[string]any{
				"id": "evt_ch2", "type": "charge.succeeded", "created": created,
				"data": map[string]any{"object": map[string]any{
					"id": "ch_2", "amount": 700, "currency": "usd", "metadata": metadata,
				}},
			},
			wantTxn: "ch_2",
			amount:  700,
		},
	}

	adapter := &Adapter{webhookSecret: "whsec"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			require.NoError(t, err)

			event, err := adapter.Parse(context.Background(), payload)
			require.NoError(t, err)
			assert.Equal(t, paymentdomain.EventTypeCharge, event.Type)
			assert.Equal(t, tt.wantTxn, event.TransactionID)
			assert.Equal(t, tt.amount, event.Amount)
			assert.Equal(t, "USD", event.Currency)
			assert.Equal(t, "creator-1", event.CreatorID)
			assert.Equal(t, "fan-9", event.FanID)
			assert.Equal(t, "tip", event.EventType)
			assert.Equal(t, time.Unix(created, 0).UTC(), event.OccurredAt)
		})
	}
}

func TestParseDispute(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"id": "evt_dp", "type": "charge.dispute.created", "created": 1775034000,
		"data": map[string]any{"object": map[string]any{
			"id": "dp_1", "charge": "ch_1", "payment_intent": "pi_1",
			"amount": 2000, "currency": "usd", "reason": "fraudulent",
		}},
	})
	require.NoError(t, err)

	event, err := (&Adapter{webhookSecret: "whsec"}).Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypeDispute, event.Type)
	assert.Equal(t, "pi_1", event.TransactionID)
	assert.Equal(t, "dp_1", event.DisputeID)
	assert.Equal(t, "fraudulent", event.Reason)
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec"}

	_, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{}}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)

	_, err = adapter.Parse(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = adapter.Parse(context.Background(), []byte(`{"type":"charge.succeeded"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}
