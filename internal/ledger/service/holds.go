package service

import (
	"context"
	"fmt"
	"time"

	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxHoldAttempts = 5

func (s *Service) HoldTx(ctx context.Context, tx *gorm.DB, key ledgerdomain.BalanceKey, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("hold amount must not be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}

	for attempt := 1; attempt <= maxHoldAttempts; attempt++ {
		balance, err := s.repo.GetBalance(ctx, tx, key)
		if err != nil {
			return err
		}
		if balance == nil || balance.Available < amount {
			available := int64(0)
			if balance != nil {
				available = balance.Available
			}
			return fmt.Errorf("%w: %s has %d available, needs %d", ledgerdomain.ErrInsufficientFunds, key.AccountID, available, amount)
		}

		moved, err := s.repo.MoveToHeld(ctx, tx, key, amount, balance.Version, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if moved {
			return nil
		}
		s.log.Debug("balance version moved during hold; retrying",
			zap.String("account_id", key.AccountID),
			zap.Int64("version", balance.Version),
			zap.Int("attempt", attempt),
		)
	}
	return ledgerdomain.ErrConcurrentUpdate
}

func (s *Service) SettleHoldTx(ctx context.Context, tx *gorm.DB, key ledgerdomain.BalanceKey, amount int64) error {
	return s.moveHeld(ctx, tx, key, amount, s.repo.MoveHeldToPaid)
}

func (s *Service) ReleaseHoldTx(ctx context.Context, tx *gorm.DB, key ledgerdomain.BalanceKey, amount int64) error {
	return s.moveHeld(ctx, tx, key, amount, s.repo.MoveHeldToAvailable)
}

type heldMove func(ctx context.Context, db *gorm.DB, key ledgerdomain.BalanceKey, amount int64, at time.Time) (bool, error)

func (s *Service) moveHeld(ctx context.Context, tx *gorm.DB, key ledgerdomain.BalanceKey, amount int64, move heldMove) error {
	if amount < 0 {
		return fmt.Errorf("held amount must not be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}
	moved, err := move(ctx, tx, key, amount, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("%w: %s holds less than %d", ledgerdomain.ErrInsufficientFunds, key.AccountID, amount)
	}
	return nil
}
