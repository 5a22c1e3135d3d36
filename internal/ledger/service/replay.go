package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/playgroundx/settlement/internal/alert/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const replayPageSize = 1000

// Rebuild recomputes every balance from the event log and batch state and
// overwrites the rows that disagree.
func (s *Service) Rebuild(ctx context.Context) (ledgerdomain.RebuildResult, error) {
	var result ledgerdomain.RebuildResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expected, err := s.replay(ctx, tx)
		if err != nil {
			return err
		}
		stored, err := s.repo.AllBalances(ctx, tx)
		if err != nil {
			return err
		}

		drifts := compareBalances(expected, stored)
		changed := make(map[ledgerdomain.BalanceKey]bool, len(drifts))
		for _, d := range drifts {
			changed[ledgerdomain.BalanceKey{AccountID: d.AccountID, Currency: d.Currency}] = true
		}

		now := s.clock.Now().UTC()
		for key := range changed {
			balance, ok := expected[key]
			if !ok {
				accountType, _ := ledgerdomain.AccountTypeOf(key.AccountID)
				balance = &ledgerdomain.Balance{AccountID: key.AccountID, Currency: key.Currency, AccountType: accountType}
			}
			balance.UpdatedAt = now
			if err := s.repo.ReplaceBalance(ctx, tx, balance); err != nil {
				return err
			}
		}

		result = ledgerdomain.RebuildResult{Accounts: len(expected), Repaired: drifts}
		return nil
	})
	if err != nil {
		return ledgerdomain.RebuildResult{}, err
	}

	s.log.Info("balances rebuilt from event log",
		zap.Int("accounts", result.Accounts),
		zap.Int("repaired_fields", len(result.Repaired)),
	)
	if s.auditSvc != nil {
		if err := s.auditSvc.AuditLog(ctx, "", nil, "ledger.rebuilt", "balances", nil, map[string]any{
			"accounts":        result.Accounts,
			"repaired_fields": len(result.Repaired),
		}); err != nil {
			s.log.Warn("failed to write rebuild audit log", zap.Error(err))
		}
	}
	return result, nil
}

// Reconcile compares stored balances against a replay of the log. It never
// writes balances; each drifting account raises an integrity alert.
func (s *Service) Reconcile(ctx context.Context) (ledgerdomain.ReconcileResult, error) {
	expected, err := s.replay(ctx, s.db)
	if err != nil {
		return ledgerdomain.ReconcileResult{}, err
	}
	stored, err := s.repo.AllBalances(ctx, s.db)
	if err != nil {
		return ledgerdomain.ReconcileResult{}, err
	}

	result := ledgerdomain.ReconcileResult{Accounts: len(expected), Drifts: compareBalances(expected, stored)}
	if len(result.Drifts) == 0 {
		return result, nil
	}

	byAccount := map[ledgerdomain.BalanceKey][]ledgerdomain.Drift{}
	for _, d := range result.Drifts {
		key := ledgerdomain.BalanceKey{AccountID: d.AccountID, Currency: d.Currency}
		byAccount[key] = append(byAccount[key], d)
	}
	for key, drifts := range byAccount {
		s.log.Error("balance drift detected",
			zap.String("account_id", key.AccountID),
			zap.String("currency", key.Currency),
			zap.Any("drifts", drifts),
		)
		if s.alertSvc == nil {
			continue
		}
		detail := map[string]any{"currency": key.Currency}
		for _, d := range drifts {
			detail[d.Field] = map[string]any{"expected": d.Expected, "actual": d.Actual}
		}
		if _, err := s.alertSvc.Raise(ctx, alertdomain.RaiseRequest{
			Kind:      alertdomain.KindBalanceDrift,
			Severity:  alertdomain.SeverityCritical,
			AccountID: key.AccountID,
			Subject:   "stored balance disagrees with event log",
			Detail:    detail,
		}); err != nil {
			s.log.Warn("failed to raise drift alert", zap.Error(err))
		}
	}
	return result, nil
}

// replay folds the event log into balances. Claims by open or processing
// batches count as held, claims by paid batches as paid out, anything else
// as available.
func (s *Service) replay(ctx context.Context, conn *gorm.DB) (map[ledgerdomain.BalanceKey]*ledgerdomain.Balance, error) {
	statuses, err := s.repo.BatchStatuses(ctx, conn)
	if err != nil {
		return nil, err
	}

	out := map[ledgerdomain.BalanceKey]*ledgerdomain.Balance{}
	account := func(accountID, currency string, accountType ledgerdomain.AccountType) *ledgerdomain.Balance {
		key := ledgerdomain.BalanceKey{AccountID: accountID, Currency: currency}
		balance, ok := out[key]
		if !ok {
			balance = &ledgerdomain.Balance{AccountID: accountID, Currency: currency, AccountType: accountType}
			out[key] = balance
		}
		return balance
	}

	topups := map[snowflake.ID]bool{}
	var after snowflake.ID
	for {
		page, err := s.repo.ScanEvents(ctx, conn, after, replayPageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for i := range page {
			e := &page[i]
			kind := e.Type
			if e.Type == ledgerdomain.EventTypeWalletTopup {
				topups[e.ID] = true
			}
			if e.Type == ledgerdomain.EventTypeRefund && e.ReversesEventID != nil && topups[*e.ReversesEventID] {
				kind = ledgerdomain.EventTypeWalletTopup
			}
			fanID := derefString(e.FanID)

			if kind == ledgerdomain.EventTypeWalletTopup {
				wallet := account(ledgerdomain.WalletAccount(fanID), e.Currency, ledgerdomain.AccountTypeWallet)
				wallet.Available += e.CreatorShare
				wallet.LifetimeGross += e.CreatorShare
			} else {
				if creator := e.CreatorAccountID(); creator != "" {
					balance := account(creator, e.Currency, ledgerdomain.AccountTypeCreator)
					balance.LifetimeGross += e.CreatorShare
					status := ""
					if e.PayoutBatchID != nil {
						status = statuses[*e.PayoutBatchID]
					}
					switch status {
					case "pending", "ready", "processing":
						balance.Held += e.CreatorShare
					case "paid":
						balance.LifetimePaidOut += e.CreatorShare
					default:
						balance.Available += e.CreatorShare
					}
				}
				if e.FundingSource == ledgerdomain.FundingSourceWallet && fanID != "" {
					wallet := account(ledgerdomain.WalletAccount(fanID), e.Currency, ledgerdomain.AccountTypeWallet)
					wallet.Available -= e.GrossAmount
				}
			}
			if e.PlatformShare != 0 {
				platform := account(ledgerdomain.PlatformAccountID, e.Currency, ledgerdomain.AccountTypePlatform)
				platform.Available += e.PlatformShare
				platform.LifetimeGross += e.PlatformShare
			}
		}
		after = page[len(page)-1].ID
		if len(page) < replayPageSize {
			break
		}
	}
	return out, nil
}

func compareBalances(expected map[ledgerdomain.BalanceKey]*ledgerdomain.Balance, stored []ledgerdomain.Balance) []ledgerdomain.Drift {
	storedByKey := make(map[ledgerdomain.BalanceKey]ledgerdomain.Balance, len(stored))
	keys := make(map[ledgerdomain.BalanceKey]struct{}, len(expected)+len(stored))
	for _, b := range stored {
		key := ledgerdomain.BalanceKey{AccountID: b.AccountID, Currency: b.Currency}
		storedByKey[key] = b
		keys[key] = struct{}{}
	}
	for key := range expected {
		keys[key] = struct{}{}
	}

	ordered := make([]ledgerdomain.BalanceKey, 0, len(keys))
	for key := range keys {
		ordered = append(ordered, key)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].AccountID != ordered[j].AccountID {
			return ordered[i].AccountID < ordered[j].AccountID
		}
		return ordered[i].Currency < ordered[j].Currency
	})

	var drifts []ledgerdomain.Drift
	for _, key := range ordered {
		want := ledgerdomain.Balance{}
		if b, ok := expected[key]; ok {
			want = *b
		}
		got := storedByKey[key]
		fields := []struct {
			name      string
			want, got int64
		}{
			{"available", want.Available, got.Available},
			{"held", want.Held, got.Held},
			{"lifetime_gross", want.LifetimeGross, got.LifetimeGross},
			{"lifetime_paid_out", want.LifetimePaidOut, got.LifetimePaidOut},
		}
		for _, f := range fields {
			if f.want != f.got {
				drifts = append(drifts, ledgerdomain.Drift{
					AccountID: key.AccountID,
					Currency:  key.Currency,
					Field:     f.name,
					Expected:  f.want,
					Actual:    f.got,
				})
			}
		}
	}
	return drifts
}
