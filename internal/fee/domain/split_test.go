package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedule() Schedule {
	return NewSchedule("test-v1", []Rule{
		{EventType: "tip", Tier: "default", PlatformBps: 1000},
		{EventType: "tip", Tier: "competition", PlatformBps: 1000},
		{EventType: "unlock", Tier: "confession_standard", PlatformBps: 1000, FixedPrice: 2000},
		{EventType: "unlock", Tier: "xchat", PlatformBps: 1250},
		{EventType: "subscription_charge", Tier: "default", PlatformBps: 333},
		{EventType: "wallet_topup", Tier: "default", PlatformBps: 0},
	}, PrizePoolRule{
		AttendanceThreshold: 500,
		PercentBps:          []int64{4000, 3000, 2000, 1000},
		FixedAmounts:        []int64{100_000, 50_000, 25_000, 10_000},
	})
}

func TestSplitNeverLeaksMinorUnits(t *testing.T) {
	schedule := testSchedule()
	amounts := []int64{0, 1, 2, 3, 5, 7, 9, 11, 15, 99, 101, 999, 1001, 12345, 99_999_999}

	for _, rule := range schedule.Rules {
		for _, gross := range amounts {
			if rule.FixedPrice > 0 {
				gross = rule.FixedPrice
			}
			res, err := SplitWith(schedule, gross, rule.EventType, rule.Tier)
			require.NoError(t, err)
			assert.Equal(t, gross, res.CreatorShare+res.PlatformShare, "%s/%s gross=%d", rule.EventType, rule.Tier, gross)
			assert.GreaterOrEqual(t, res.CreatorShare, int64(0))
			assert.GreaterOrEqual(t, res.PlatformShare, int64(0))
		}
	}
}

func TestSplitRejectsAmountsThatWouldOverflow(t *testing.T) {
	schedule := testSchedule()

	res, err := SplitWith(schedule, MaxAmount, "tip", "default")
	require.NoError(t, err)
	assert.Equal(t, MaxAmount, res.CreatorShare+res.PlatformShare)
	assert.GreaterOrEqual(t, res.PlatformShare, int64(0))
	assert.Greater(t, res.CreatorShare, res.PlatformShare)

	_, err = SplitWith(schedule, MaxAmount+1, "tip", "default")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = SplitWith(schedule, 10_000_000_000_000_000, "tip", "default")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = PrizePoolWith(schedule, MaxAmount+1, 10)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSplitRoundsPlatformHalfUp(t *testing.T) {
	schedule := testSchedule()

	// 10% of 15 is 1.5, rounds up to 2.
	res, err := SplitWith(schedule, 15, "tip", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.PlatformShare)
	assert.Equal(t, int64(13), res.CreatorShare)

	// 10% of 14 is 1.4, rounds down.
	res, err = SplitWith(schedule, 14, "tip", "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.PlatformShare)

	// 10% of 1 is 0.1.
	res, err = SplitWith(schedule, 1, "tip", "default")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.PlatformShare)
	assert.Equal(t, int64(1), res.CreatorShare)
}

func TestSplitTenDollarTip(t *testing.T) {
	res, err := SplitWith(testSchedule(), 1000, "TIP", " Default ")
	require.NoError(t, err)
	assert.Equal(t, int64(900), res.CreatorShare)
	assert.Equal(t, int64(100), res.PlatformShare)
	assert.Equal(t, int64(1000), res.PlatformBps)
	assert.Equal(t, "test-v1", res.ScheduleVersion)
}

func TestSplitRejectsUnknownTierAndBadAmounts(t *testing.T) {
	schedule := testSchedule()

	_, err := SplitWith(schedule, 1000, "unlock", "mystery")
	assert.ErrorIs(t, err, ErrInvalidTier)

	_, err = SplitWith(schedule, 1000, "entry_fee", "")
	assert.ErrorIs(t, err, ErrInvalidTier)

	_, err = SplitWith(schedule, -1, "tip", "default")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = SplitWith(schedule, 1999, "unlock", "confession_standard")
	assert.ErrorIs(t, err, ErrPriceMismatch)
}

func TestPrizePoolPercentageBelowThreshold(t *testing.T) {
	res, err := PrizePoolWith(testSchedule(), 10_001, 120)
	require.NoError(t, err)
	assert.Equal(t, PrizePoolModePercentage, res.Mode)
	assert.Equal(t, []int64{4000, 3000, 2000, 1000}, res.Placements)
	assert.Equal(t, int64(1), res.PlatformShare)
}

func TestPrizePoolFixedAtThreshold(t *testing.T) {
	res, err := PrizePoolWith(testSchedule(), 500_000, 500)
	require.NoError(t, err)
	assert.Equal(t, PrizePoolModeFixed, res.Mode)
	assert.Equal(t, []int64{100_000, 50_000, 25_000, 10_000}, res.Placements)
	assert.Equal(t, int64(315_000), res.PlatformShare)
}

func TestPrizePoolValidation(t *testing.T) {
	_, err := PrizePoolWith(testSchedule(), -5, 10)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = PrizePoolWith(testSchedule(), 5, -1)
	assert.ErrorIs(t, err, ErrInvalidAttendance)

	empty := NewSchedule("empty", []Rule{{EventType: "tip", Tier: "default", PlatformBps: 1000}}, PrizePoolRule{})
	_, err = PrizePoolWith(empty, 100, 10)
	assert.ErrorIs(t, err, ErrPrizePoolDisabled)
}

func TestChecksumIgnoresRuleOrder(t *testing.T) {
	a := NewSchedule("v", []Rule{
		{EventType: "tip", Tier: "default", PlatformBps: 1000},
		{EventType: "unlock", Tier: "xchat", PlatformBps: 1000},
	}, PrizePoolRule{})
	b := NewSchedule("v", []Rule{
		{EventType: "unlock", Tier: "xchat", PlatformBps: 1000},
		{EventType: "tip", Tier: "default", PlatformBps: 1000},
	}, PrizePoolRule{})
	assert.Equal(t, a.Checksum, b.Checksum)

	c := NewSchedule("v", []Rule{{EventType: "tip", Tier: "default", PlatformBps: 1500}}, PrizePoolRule{})
	assert.NotEqual(t, a.Checksum, c.Checksum)
}
