package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// NewSchedule normalizes rules and computes the checksum.
func NewSchedule(version string, rules []Rule, pool PrizePoolRule) Schedule {
	normalized := make([]Rule, 0, len(rules))
	index := make(map[string]Rule, len(rules))
	for _, rule := range rules {
		rule.EventType = normalize(rule.EventType)
		rule.Tier = normalize(rule.Tier)
		normalized = append(normalized, rule)
		index[ruleKey(rule.EventType, rule.Tier)] = rule
	}
	sort.Slice(normalized, func(i, j int) bool {
		if normalized[i].EventType != normalized[j].EventType {
			return normalized[i].EventType < normalized[j].EventType
		}
		return normalized[i].Tier < normalized[j].Tier
	})

	schedule := Schedule{
		Version:   strings.TrimSpace(version),
		Rules:     normalized,
		PrizePool: pool,
		index:     index,
	}
	schedule.Checksum = checksum(schedule)
	return schedule
}

// Rule looks up the rule for an event type and tier.
func (s Schedule) Rule(eventType, tier string) (Rule, bool) {
	tier = normalize(tier)
	if tier == "" {
		tier = DefaultTier
	}
	rule, ok := s.index[ruleKey(normalize(eventType), tier)]
	return rule, ok
}

// RoundHalfUp returns round_half_up(amount * bps / 10000) for amounts in
// [0, MaxAmount] and bps in [0, 10000].
func RoundHalfUp(amount, bps int64) int64 {
	return (amount*bps + bpsDenominator/2) / bpsDenominator
}

// SplitWith splits gross against an explicit schedule. The platform share is rounded
// half up and the creator takes the remainder, so the two always sum to gross.
func SplitWith(schedule Schedule, gross int64, eventType, tier string) (SplitResult, error) {
	if gross < 0 || gross > MaxAmount {
		return SplitResult{}, ErrInvalidAmount
	}
	rule, ok := schedule.Rule(eventType, tier)
	if !ok {
		return SplitResult{}, fmt.Errorf("%w: %s/%s", ErrInvalidTier, normalize(eventType), tierOrDefault(tier))
	}
	if rule.FixedPrice > 0 && gross != rule.FixedPrice {
		return SplitResult{}, fmt.Errorf("%w: tier %s costs %d, got %d", ErrPriceMismatch, rule.Tier, rule.FixedPrice, gross)
	}

	platform := RoundHalfUp(gross, rule.PlatformBps)
	return SplitResult{
		Gross:           gross,
		CreatorShare:    gross - platform,
		PlatformShare:   platform,
		PlatformBps:     rule.PlatformBps,
		ScheduleVersion: schedule.Version,
		EventType:       rule.EventType,
		Tier:            rule.Tier,
	}, nil
}

// PrizePoolWith divides a competition pool by placement. Below the attendance
// threshold each placement gets floor(pool * bps / 10000); at or above it the fixed
// table is paid. Whatever the placements do not consume goes to the platform, and a
// fixed table larger than the pool yields a negative platform share.
func PrizePoolWith(schedule Schedule, pool int64, attendance int) (PrizePoolResult, error) {
	if pool < 0 || pool > MaxAmount {
		return PrizePoolResult{}, ErrInvalidAmount
	}
	if attendance < 0 {
		return PrizePoolResult{}, ErrInvalidAttendance
	}
	rule := schedule.PrizePool
	if rule.AttendanceThreshold <= 0 {
		return PrizePoolResult{}, ErrPrizePoolDisabled
	}

	result := PrizePoolResult{
		Pool:            pool,
		Attendance:      attendance,
		ScheduleVersion: schedule.Version,
	}
	var paid int64
	if attendance < rule.AttendanceThreshold {
		result.Mode = PrizePoolModePercentage
		for _, bps := range rule.PercentBps {
			amount := pool * bps / bpsDenominator
			result.Placements = append(result.Placements, amount)
			paid += amount
		}
	} else {
		result.Mode = PrizePoolModeFixed
		for _, amount := range rule.FixedAmounts {
			result.Placements = append(result.Placements, amount)
			paid += amount
		}
	}
	result.PlatformShare = pool - paid
	return result, nil
}

func checksum(schedule Schedule) string {
	payload, _ := json.Marshal(struct {
		Version   string        `json:"version"`
		Rules     []Rule        `json:"rules"`
		PrizePool PrizePoolRule `json:"prize_pool"`
	}{schedule.Version, schedule.Rules, schedule.PrizePool})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func ruleKey(eventType, tier string) string {
	return eventType + "/" + tier
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func tierOrDefault(tier string) string {
	if normalize(tier) == "" {
		return DefaultTier
	}
	return normalize(tier)
}
