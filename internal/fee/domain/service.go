package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Current returns the schedule new events are split with.
	Current() Schedule
	Split(gross int64, eventType string, tier string) (SplitResult, error)
	PrizePool(pool int64, attendance int) (PrizePoolResult, error)
	Snapshot(ctx context.Context, version string) (*ScheduleSnapshot, error)
	ListSnapshots(ctx context.Context) ([]ScheduleSnapshot, error)
}

var (
	ErrInvalidTier       = errors.New("invalid_tier")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrPriceMismatch     = errors.New("price_mismatch")
	ErrInvalidAttendance = errors.New("invalid_attendance")
	ErrPrizePoolDisabled = errors.New("prize_pool_not_configured")
	ErrSnapshotConflict  = errors.New("fee_schedule_version_conflict")
	ErrNotFound          = errors.New("fee_schedule_not_found")
)
