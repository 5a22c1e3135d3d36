package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/idempotency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxKeyLength = 255

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("idempotency.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

// Admit inserts the key if absent. The loser of a concurrent race blocks on the
// unique index until the winner commits, then reads the winner's event id.
func (s *Service) Admit(ctx context.Context, tx *gorm.DB, req domain.AdmitRequest) (domain.AdmitResult, error) {
	source := strings.TrimSpace(req.Source)
	key := strings.TrimSpace(req.Key)
	if source == "" || key == "" || len(key) > maxKeyLength {
		return domain.AdmitResult{}, domain.ErrInvalidKey
	}

	hash, err := domain.RequestHash(req.Payload)
	if err != nil {
		return domain.AdmitResult{}, fmt.Errorf("hash idempotent payload: %w", err)
	}

	eventID := req.EventID
	if eventID == 0 {
		eventID = s.genID.Generate()
	}

	inserted, err := s.repo.Insert(ctx, tx, &domain.Record{
		Source:         source,
		IdempotencyKey: key,
		RequestHash:    hash,
		EventID:        eventID,
		CreatedAt:      s.clock.Now().UTC(),
	})
	if err != nil {
		return domain.AdmitResult{}, err
	}
	if inserted {
		return domain.AdmitResult{Accepted: true, EventID: eventID}, nil
	}

	existing, err := s.repo.Get(ctx, tx, source, key)
	if err != nil {
		return domain.AdmitResult{}, err
	}
	if existing == nil {
		return domain.AdmitResult{}, fmt.Errorf("idempotency key %s/%s vanished after conflict", source, key)
	}
	if existing.RequestHash != "" && hash != "" && existing.RequestHash != hash {
		s.log.Warn("idempotency key reused with a different payload",
			zap.String("source", source),
			zap.String("idempotency_key", key),
			zap.String("event_id", existing.EventID.String()),
		)
		return domain.AdmitResult{}, domain.ErrIdempotencyConflict
	}
	return domain.AdmitResult{Accepted: false, EventID: existing.EventID}, nil
}

func (s *Service) Lookup(ctx context.Context, source, key string) (*domain.Record, error) {
	record, err := s.repo.Get(ctx, s.db, strings.TrimSpace(source), strings.TrimSpace(key))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	return record, nil
}
