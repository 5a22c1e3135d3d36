package events

import (
	"context"
	"time"

	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultClaimTTL    = 30 * time.Second
	defaultMaxAttempts = 8
	maxRetryBackoff    = 10 * time.Minute
)

// Publisher delivers a serialized event to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

type DispatcherParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Publisher Publisher
	Clock     clock.Clock `optional:"true"`
}

type Dispatcher struct {
	db          *gorm.DB
	log         *zap.Logger
	publisher   Publisher
	clock       clock.Clock
	claimTTL    time.Duration
	maxAttempts int
}

type DispatchResult struct {
	Claimed    int
	Published  int
	Failed     int
	DeadLetter int
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Dispatcher{
		db:          p.DB,
		log:         p.Log.Named("events.dispatcher"),
		publisher:   p.Publisher,
		clock:       clk,
		claimTTL:    defaultClaimTTL,
		maxAttempts: defaultMaxAttempts,
	}
}

// DispatchPending claims up to limit due rows, publishes them and records the
// outcome. A claim is a lease: available_at moves forward by the claim TTL so a
// crashed dispatcher's rows come back on their own.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (DispatchResult, error) {
	var result DispatchResult
	if limit <= 0 {
		return result, nil
	}

	rows, err := d.claim(ctx, limit)
	if err != nil {
		return result, err
	}
	result.Claimed = len(rows)

	for _, row := range rows {
		err := d.publisher.Publish(ctx, row.Topic, row.EventKey, row.Payload)
		now := d.clock.Now().UTC()
		if err == nil {
			if markErr := d.db.WithContext(ctx).Exec(
				`UPDATE outbox_events SET status = ?, dispatched_at = ?, last_error = NULL WHERE id = ?`,
				OutboxStatusDispatched, now, row.ID,
			).Error; markErr != nil {
				return result, markErr
			}
			result.Published++
			continue
		}

		attempts := row.Attempts + 1
		msg := err.Error()
		if attempts >= d.maxAttempts {
			result.DeadLetter++
			d.log.Error("outbox event moved to dead letter",
				zap.String("outbox_id", row.ID.String()),
				zap.String("event_type", row.EventType),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			if markErr := d.db.WithContext(ctx).Exec(
				`UPDATE outbox_events SET status = ?, attempts = ?, last_error = ? WHERE id = ?`,
				OutboxStatusDead, attempts, msg, row.ID,
			).Error; markErr != nil {
				return result, markErr
			}
			continue
		}

		result.Failed++
		d.log.Warn("outbox publish failed; retry scheduled",
			zap.String("outbox_id", row.ID.String()),
			zap.String("event_type", row.EventType),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if markErr := d.db.WithContext(ctx).Exec(
			`UPDATE outbox_events SET attempts = ?, last_error = ?, available_at = ? WHERE id = ?`,
			attempts, msg, now.Add(retryBackoff(attempts)), row.ID,
		).Error; markErr != nil {
			return result, markErr
		}
	}

	if result.Claimed > 0 {
		d.log.Info("outbox batch processed",
			zap.Int("claimed", result.Claimed),
			zap.Int("published", result.Published),
			zap.Int("failed", result.Failed),
			zap.Int("dead_lettered", result.DeadLetter),
		)
	}
	return result, nil
}

func (d *Dispatcher) claim(ctx context.Context, limit int) ([]OutboxEvent, error) {
	var rows []OutboxEvent
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := d.clock.Now().UTC()
		if err := tx.Raw(
			`SELECT id, topic, event_key, event_type, payload, status, attempts, last_error, available_at, created_at, dispatched_at
			 FROM outbox_events
			 WHERE status = ? AND available_at <= ?
			 ORDER BY id ASC
			 LIMIT ?`+db.ForUpdateSkipLocked(tx),
			OutboxStatusPending, now, limit,
		).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]any, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		return tx.Exec(
			`UPDATE outbox_events SET available_at = ? WHERE id IN ?`,
			now.Add(d.claimTTL), ids,
		).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func retryBackoff(attempts int) time.Duration {
	backoff := time.Second << uint(attempts)
	if backoff <= 0 || backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}
