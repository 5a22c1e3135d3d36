package braintree

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"
	"time"

	paymentdomain "github.com/playgroundx/settlement/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settledXML = `<notification>
  <kind>transaction_settled</kind>
  <timestamp type="datetime">2026-04-01T09:00:00Z</timestamp>
  <subject>
    <transaction>
      <id>bt_txn_1</id>
      <amount>20.00</amount>
      <currency-iso-code>USD</currency-iso-code>
      <created-at type="datetime">2026-04-01T08:59:00Z</created-at>
      <custom-fields>
        <creator-id>creator-1</creator-id>
        <fan-id>fan-9</fan-id>
        <event-type>tip</event-type>
      </custom-fields>
    </transaction>
  </subject>
</notification>`

const disputeXML = `<notification>
  <kind>dispute_opened</kind>
  <timestamp type="datetime">2026-04-02T09:00:00Z</timestamp>
  <subject>
    <dispute>
      <id>bt_dp_1</id>
      <amount-disputed>20.0</amount-disputed>
      <currency-iso-code>USD</currency-iso-code>
      <reason>fraud</reason>
      <transaction><id>bt_txn_1</id></transaction>
    </dispute>
  </subject>
</notification>`

func form(publicKey, privateKey, body string) []byte {
	payload := base64.StdEncoding.EncodeToString([]byte(body))
	values := url.Values{}
	values.Set("bt_payload", payload)
	values.Set("bt_signature", publicKey+"|"+Sign(privateKey, payload))
	return []byte(values.Encode())
}

func TestVerify(t *testing.T) {
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider: provider,
		Config:   map[string]any{"public_key": "pub", "private_key": "priv"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, adapter.Verify(ctx, form("pub", "priv", settledXML), http.Header{}))
	assert.ErrorIs(t, adapter.Verify(ctx, form("pub", "other", settledXML), http.Header{}), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, adapter.Verify(ctx, form("other", "priv", settledXML), http.Header{}), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, adapter.Verify(ctx, []byte("bt_payload=x"), http.Header{}), paymentdomain.ErrInvalidPayload)
}

func TestFactoryRequiresKeys(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{"private_key": "priv"}})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestParseSettledTransaction(t *testing.T) {
	adapter := &Adapter{publicKey: "pub", privateKey: "priv"}
	event, err := adapter.Parse(context.Background(), form("pub", "priv", settledXML))
	require.NoError(t, err)

	assert.Equal(t, paymentdomain.EventTypeCharge, event.Type)
	assert.Equal(t, "bt_txn_1", event.TransactionID)
	assert.Equal(t, "transaction_settled:bt_txn_1", event.ProviderEventID)
	assert.Equal(t, int64(2000), event.Amount)
	assert.Equal(t, "USD", event.Currency)
	assert.Equal(t, "creator-1", event.CreatorID)
	assert.Equal(t, "fan-9", event.FanID)
	assert.Equal(t, "tip", event.EventType)
	assert.Equal(t, time.Date(2026, 4, 1, 8, 59, 0, 0, time.UTC), event.OccurredAt)
}

func TestParseDispute(t *testing.T) {
	adapter := &Adapter{publicKey: "pub", privateKey: "priv"}
	event, err := adapter.Parse(context.Background(), form("pub", "priv", disputeXML))
	require.NoError(t, err)

	assert.Equal(t, paymentdomain.EventTypeDispute, event.Type)
	assert.Equal(t, "bt_txn_1", event.TransactionID)
	assert.Equal(t, "bt_dp_1", event.DisputeID)
	assert.Equal(t, int64(2000), event.Amount)
	assert.Equal(t, "fraud", event.Reason)
}

func TestParseIgnoresOtherKinds(t *testing.T) {
	adapter := &Adapter{publicKey: "pub", privateKey: "priv"}
	_, err := adapter.Parse(context.Background(), form("pub", "priv", `<notification><kind>check</kind></notification>`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestParseMinorUnits(t *testing.T) {
	cases := map[string]int64{"20.00": 2000, "20.5": 2050, "7": 700, ".25": 25}
	for in, want := range cases {
		got, err := parseMinorUnits(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"1.234", "-1.00", "abc", ""} {
		_, err := parseMinorUnits(bad)
		assert.Error(t, err, bad)
	}
}
