package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/config"
	feedomain "github.com/playgroundx/settlement/internal/fee/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Holder *config.FeeScheduleHolder
	Repo   feedomain.Repository
	Clock  clock.Clock `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   feedomain.Repository
	clock  clock.Clock
	active atomic.Pointer[feedomain.Schedule]
}

func NewService(p Params) (feedomain.Service, error) {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Service{
		db:    p.DB,
		log:   p.Log.Named("fee.service"),
		repo:  p.Repo,
		clock: clk,
	}

	if err := s.activate(context.Background(), p.Holder.Get()); err != nil {
		return nil, err
	}
	p.Holder.OnChange(func(cfg config.FeeScheduleConfig) {
		if err := s.activate(context.Background(), cfg); err != nil {
			s.log.Error("fee schedule not activated", zap.String("version", cfg.Version), zap.Error(err))
		}
	})
	return s, nil
}

// FromConfig converts the file shape into a schedule.
func FromConfig(cfg config.FeeScheduleConfig) feedomain.Schedule {
	rules := make([]feedomain.Rule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		rules = append(rules, feedomain.Rule{
			EventType:   rule.EventType,
			Tier:        rule.Tier,
			PlatformBps: rule.PlatformBps,
			FixedPrice:  rule.FixedPrice,
		})
	}
	return feedomain.NewSchedule(cfg.Version, rules, feedomain.PrizePoolRule{
		AttendanceThreshold: cfg.PrizePool.AttendanceThreshold,
		PercentBps:          append([]int64(nil), cfg.PrizePool.PercentBps...),
		FixedAmounts:        append([]int64(nil), cfg.PrizePool.FixedAmounts...),
	})
}

// activate stores the snapshot row, then swaps the in-memory schedule. A version
// that was already stored with different content is refused so posted events
// keep pointing at the rules they were split with.
func (s *Service) activate(ctx context.Context, cfg config.FeeScheduleConfig) error {
	schedule := FromConfig(cfg)

	payload, err := json.Marshal(schedule)
	if err != nil {
		return err
	}
	snapshot := &feedomain.ScheduleSnapshot{
		Version:  schedule.Version,
		Checksum: schedule.Checksum,
		Rules:    datatypes.JSON(payload),
		LoadedAt: s.clock.Now().UTC(),
	}

	inserted, err := s.repo.InsertSnapshot(ctx, s.db, snapshot)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.repo.GetSnapshot(ctx, s.db, schedule.Version)
		if err != nil {
			return err
		}
		if existing != nil && existing.Checksum != schedule.Checksum {
			return fmt.Errorf("%w: %s", feedomain.ErrSnapshotConflict, schedule.Version)
		}
	}

	s.active.Store(&schedule)
	s.log.Info("fee schedule active",
		zap.String("version", schedule.Version),
		zap.String("checksum", schedule.Checksum),
		zap.Int("rules", len(schedule.Rules)),
	)
	return nil
}

func (s *Service) Current() feedomain.Schedule {
	return *s.active.Load()
}

func (s *Service) Split(gross int64, eventType string, tier string) (feedomain.SplitResult, error) {
	return feedomain.SplitWith(s.Current(), gross, eventType, tier)
}

func (s *Service) PrizePool(pool int64, attendance int) (feedomain.PrizePoolResult, error) {
	return feedomain.PrizePoolWith(s.Current(), pool, attendance)
}

func (s *Service) Snapshot(ctx context.Context, version string) (*feedomain.ScheduleSnapshot, error) {
	snapshot, err := s.repo.GetSnapshot(ctx, s.db, version)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, feedomain.ErrNotFound
	}
	return snapshot, nil
}

func (s *Service) ListSnapshots(ctx context.Context) ([]feedomain.ScheduleSnapshot, error) {
	return s.repo.ListSnapshots(ctx, s.db)
}

