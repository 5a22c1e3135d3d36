package braintree

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/playgroundx/settlement/internal/payment/domain"
)

const provider = "braintree"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	publicKey, _ := readString(cfg.Config, "public_key")
	privateKey, _ := readString(cfg.Config, "private_key")
	publicKey = strings.TrimSpace(publicKey)
	privateKey = strings.TrimSpace(privateKey)
	if publicKey == "" || privateKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{publicKey: publicKey, privateKey: privateKey}, nil
}

type Adapter struct {
	publicKey  string
	privateKey string
}

// Verify checks bt_signature against bt_payload. The signature holds one or
// more "public_key|hex(hmac_sha1(sha1(private_key), bt_payload))" pairs
// joined by "&".
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	signature := values.Get("bt_signature")
	content := values.Get("bt_payload")
	if signature == "" || content == "" {
		return paymentdomain.ErrInvalidPayload
	}

	expected := Sign(a.privateKey, content)
	for _, pair := range strings.Split(signature, "&") {
		parts := strings.SplitN(pair, "|", 2)
		if len(parts) != 2 || parts[0] != a.publicKey {
			continue
		}
		if hmac.Equal([]byte(parts[1]), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// Sign returns the hex digest Braintree attaches to content.
func Sign(privateKey, content string) string {
	key := sha1.Sum([]byte(privateKey))
	mac := hmac.New(sha1.New, key[:])
	_, _ = mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.GatewayEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	encoded := values.Get("bt_payload")
	if encoded == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(encoded, "\n", ""))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var n notification
	if err := xml.Unmarshal(raw, &n); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	switch strings.TrimSpace(n.Kind) {
	case "transaction_settled":
		return parseTransaction(n, raw)
	case "dispute_opened":
		return parseDispute(n, raw)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type notification struct {
	XMLName   xml.Name `xml:"notification"`
	Kind      string   `xml:"kind"`
	Timestamp string   `xml:"timestamp"`
	Subject   struct {
		Transaction *transaction `xml:"transaction"`
		Dispute     *dispute     `xml:"dispute"`
	} `xml:"subject"`
}

type transaction struct {
	ID           string `xml:"id"`
	Amount       string `xml:"amount"`
	Currency     string `xml:"currency-iso-code"`
	CreatedAt    string `xml:"created-at"`
	CustomFields struct {
		CreatorID string `xml:"creator-id"`
		FanID     string `xml:"fan-id"`
		EventType string `xml:"event-type"`
		Tier      string `xml:"tier"`
	} `xml:"custom-fields"`
}

type dispute struct {
	ID          string `xml:"id"`
	Amount      string `xml:"amount-disputed"`
	Currency    string `xml:"currency-iso-code"`
	Reason      string `xml:"reason"`
	Transaction struct {
		ID string `xml:"id"`
	} `xml:"transaction"`
}

func parseTransaction(n notification, raw []byte) (*paymentdomain.GatewayEvent, error) {
	txn := n.Subject.Transaction
	if txn == nil || strings.TrimSpace(txn.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	amount, err := parseMinorUnits(txn.Amount)
	if err != nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	occurredAt := parseTime(txn.CreatedAt)
	if occurredAt.IsZero() {
		occurredAt = parseTime(n.Timestamp)
	}

	id := strings.TrimSpace(txn.ID)
	return &paymentdomain.GatewayEvent{
		Provider:        provider,
		ProviderEventID: eventID(n, id),
		Type:            paymentdomain.EventTypeCharge,
		TransactionID:   id,
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(txn.Currency)),
		CreatorID:       strings.TrimSpace(txn.CustomFields.CreatorID),
		FanID:           strings.TrimSpace(txn.CustomFields.FanID),
		EventType:       strings.TrimSpace(txn.CustomFields.EventType),
		Tier:            strings.TrimSpace(txn.CustomFields.Tier),
		OccurredAt:      occurredAt,
		RawPayload:      raw,
	}, nil
}

func parseDispute(n notification, raw []byte) (*paymentdomain.GatewayEvent, error) {
	d := n.Subject.Dispute
	if d == nil || strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.Transaction.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	amount, err := parseMinorUnits(d.Amount)
	if err != nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	id := strings.TrimSpace(d.ID)
	return &paymentdomain.GatewayEvent{
		Provider:        provider,
		ProviderEventID: eventID(n, id),
		Type:            paymentdomain.EventTypeDispute,
		TransactionID:   strings.TrimSpace(d.Transaction.ID),
		DisputeID:       id,
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(d.Currency)),
		Reason:          strings.TrimSpace(d.Reason),
		OccurredAt:      parseTime(n.Timestamp),
		RawPayload:      raw,
	}, nil
}

// Braintree notifications carry no event id of their own.
func eventID(n notification, subjectID string) string {
	return strings.TrimSpace(n.Kind) + ":" + subjectID
}

// parseMinorUnits converts a decimal string such as "20.5" to 2050.
func parseMinorUnits(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, strconv.ErrSyntax
	}
	whole, frac, _ := strings.Cut(value, ".")
	if len(frac) > 2 {
		return 0, strconv.ErrSyntax
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, strconv.ErrSyntax
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, strconv.ErrSyntax
	}
	return w*100 + f, nil
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
