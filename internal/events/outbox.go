package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/config"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrMissingTx        = errors.New("outbox_requires_transaction")
)

type OutboxParams struct {
	fx.In

	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

// Outbox writes events next to the state change that produced them.
type Outbox struct {
	kafka config.KafkaConfig
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParams) *Outbox {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Outbox{kafka: p.Cfg.Kafka, genID: p.GenID, clock: clk}
}

// PublishTx queues the event inside tx. The row becomes visible to the
// dispatcher only once tx commits.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return ErrMissingTx
	}
	eventType := strings.TrimSpace(string(event.Type))
	if eventType == "" {
		return ErrInvalidEventType
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(map[string]any{
		"type":        eventType,
		"occurred_at": o.clock.Now().UTC(),
		"data":        payload,
	})
	if err != nil {
		return err
	}

	id := o.genID.Generate()
	key := strings.TrimSpace(event.Key)
	if key == "" {
		key = id.String()
	}
	now := o.clock.Now().UTC()

	return tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (
			id, topic, event_key, event_type, payload, status, attempts, available_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id,
		TopicFor(o.kafka, event.Type),
		key,
		eventType,
		datatypes.JSON(body),
		OutboxStatusPending,
		now,
		now,
	).Error
}
