package service

import (
	"strings"
	"time"
	"unicode"

	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
)

type normalizedPost struct {
	ledgerdomain.PostRequest
}

func (s *Service) normalizePost(req ledgerdomain.PostRequest) (normalizedPost, error) {
	out := req
	out.Source = strings.ToLower(strings.TrimSpace(req.Source))
	if out.Source == "" || out.Source == ledgerdomain.ReversalSource {
		return normalizedPost{}, ledgerdomain.ErrInvalidSource
	}
	out.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	out.Type = ledgerdomain.EventType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	if !out.Type.Postable() {
		return normalizedPost{}, ledgerdomain.ErrInvalidEventType
	}

	currency, err := NormalizeCurrency(req.Currency)
	if err != nil {
		return normalizedPost{}, err
	}
	out.Currency = currency

	out.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
	out.CreatorID = strings.TrimSpace(req.CreatorID)
	out.FanID = strings.TrimSpace(req.FanID)

	switch ledgerdomain.FundingSource(strings.ToLower(strings.TrimSpace(string(req.FundingSource)))) {
	case "", ledgerdomain.FundingSourceExternal:
		out.FundingSource = ledgerdomain.FundingSourceExternal
	case ledgerdomain.FundingSourceWallet:
		out.FundingSource = ledgerdomain.FundingSourceWallet
	default:
		return normalizedPost{}, ledgerdomain.ErrInvalidFundingSource
	}

	if out.Type == ledgerdomain.EventTypeWalletTopup {
		if out.CreatorID != "" {
			return normalizedPost{}, ledgerdomain.ErrUnexpectedCreator
		}
		if out.FundingSource == ledgerdomain.FundingSourceWallet {
			return normalizedPost{}, ledgerdomain.ErrInvalidFundingSource
		}
		if out.FanID == "" {
			return normalizedPost{}, ledgerdomain.ErrMissingFan
		}
	}
	if out.FundingSource == ledgerdomain.FundingSourceWallet && out.FanID == "" {
		return normalizedPost{}, ledgerdomain.ErrMissingFan
	}

	if req.OccurredAt.IsZero() {
		out.OccurredAt = s.clock.Now().UTC()
	} else {
		out.OccurredAt = req.OccurredAt.UTC()
	}
	out.OccurredAt = out.OccurredAt.Truncate(time.Microsecond)
	return normalizedPost{PostRequest: out}, nil
}

// NormalizeCurrency upper-cases an ISO 4217 code and rejects anything else.
func NormalizeCurrency(raw string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if len(currency) != 3 {
		return "", ledgerdomain.ErrInvalidCurrency
	}
	for _, r := range currency {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return "", ledgerdomain.ErrInvalidCurrency
		}
	}
	return currency, nil
}

// fingerprint is what the idempotency gate hashes. The caller's own
// occurred_at is used so that a retry without one still matches.
func fingerprint(post normalizedPost, requestedAt time.Time) map[string]any {
	fp := map[string]any{
		"type":           string(post.Type),
		"tier":           post.Tier,
		"gross_amount":   post.GrossAmount,
		"currency":       post.Currency,
		"creator_id":     post.CreatorID,
		"fan_id":         post.FanID,
		"funding_source": string(post.FundingSource),
	}
	if !requestedAt.IsZero() {
		fp["occurred_at"] = requestedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
	}
	return fp
}

func creatorKey(creatorID, currency string) ledgerdomain.BalanceKey {
	return ledgerdomain.BalanceKey{AccountID: ledgerdomain.CreatorAccount(creatorID), Currency: currency}
}

func walletKey(fanID, currency string) ledgerdomain.BalanceKey {
	return ledgerdomain.BalanceKey{AccountID: ledgerdomain.WalletAccount(fanID), Currency: currency}
}

func platformKey(currency string) ledgerdomain.BalanceKey {
	return ledgerdomain.BalanceKey{AccountID: ledgerdomain.PlatformAccountID, Currency: currency}
}

func partitionKey(event *ledgerdomain.LedgerEvent) string {
	switch {
	case event.CreatorAccountID() != "":
		return event.CreatorAccountID()
	case event.FanID != nil && *event.FanID != "":
		return ledgerdomain.WalletAccount(*event.FanID)
	default:
		return ledgerdomain.PlatformAccountID
	}
}

func eventPayload(event *ledgerdomain.LedgerEvent) map[string]any {
	return map[string]any{
		"event_id":             event.ID.String(),
		"source":               event.Source,
		"type":                 string(event.Type),
		"tier":                 event.Tier,
		"gross_amount":         event.GrossAmount,
		"creator_share":        event.CreatorShare,
		"platform_share":       event.PlatformShare,
		"currency":             event.Currency,
		"creator_id":           derefString(event.CreatorID),
		"fan_id":               derefString(event.FanID),
		"funding_source":       string(event.FundingSource),
		"fee_schedule_version": event.FeeScheduleVersion,
		"occurred_at":          event.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
