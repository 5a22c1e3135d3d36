package domain

import (
	"context"
	"math"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultTier is used when an event carries no tier.
const DefaultTier = "default"

const bpsDenominator = 10_000

// MaxAmount is the largest gross or pool, in minor units, whose basis-point
// product still fits in an int64.
const MaxAmount int64 = math.MaxInt64 / bpsDenominator

// Rule prices one (event type, tier) pair.
type Rule struct {
	EventType   string `json:"event_type"`
	Tier        string `json:"tier"`
	PlatformBps int64  `json:"platform_bps"`
	FixedPrice  int64  `json:"fixed_price,omitempty"`
}

type PrizePoolRule struct {
	AttendanceThreshold int     `json:"attendance_threshold"`
	PercentBps          []int64 `json:"percent_bps"`
	FixedAmounts        []int64 `json:"fixed_amounts"`
}

// Schedule is an immutable fee snapshot. Posted events keep the version and
// basis points they were split with.
type Schedule struct {
	Version   string        `json:"version"`
	Checksum  string        `json:"checksum"`
	Rules     []Rule        `json:"rules"`
	PrizePool PrizePoolRule `json:"prize_pool"`

	index map[string]Rule
}

type SplitResult struct {
	Gross           int64  `json:"gross"`
	CreatorShare    int64  `json:"creator_share"`
	PlatformShare   int64  `json:"platform_share"`
	PlatformBps     int64  `json:"platform_bps"`
	ScheduleVersion string `json:"schedule_version"`
	EventType       string `json:"event_type"`
	Tier            string `json:"tier"`
}

type PrizePoolMode string

const (
	PrizePoolModePercentage PrizePoolMode = "percentage"
	PrizePoolModeFixed      PrizePoolMode = "fixed"
)

type PrizePoolResult struct {
	Pool            int64         `json:"pool"`
	Attendance      int           `json:"attendance"`
	Mode            PrizePoolMode `json:"mode"`
	Placements      []int64       `json:"placements"`
	PlatformShare   int64         `json:"platform_share"`
	ScheduleVersion string        `json:"schedule_version"`
}

// ScheduleSnapshot is the stored form of a Schedule.
type ScheduleSnapshot struct {
	Version  string         `gorm:"primaryKey"`
	Checksum string         `gorm:"not null"`
	Rules    datatypes.JSON `gorm:"type:jsonb;not null"`
	LoadedAt time.Time      `gorm:"not null"`
}

func (ScheduleSnapshot) TableName() string { return "fee_schedules" }

type Repository interface {
	InsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *ScheduleSnapshot) (bool, error)
	GetSnapshot(ctx context.Context, db *gorm.DB, version string) (*ScheduleSnapshot, error)
	ListSnapshots(ctx context.Context, db *gorm.DB) ([]ScheduleSnapshot, error)
}
