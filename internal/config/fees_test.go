package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultFeeScheduleIsValid(t *testing.T) {
	require.NoError(t, ValidateFeeSchedule(DefaultFeeScheduleConfig()))
}

func TestValidateFeeScheduleRejectsBadRules(t *testing.T) {
	cases := map[string]FeeScheduleConfig{
		"missing version": {Rules: []FeeRuleConfig{{EventType: "tip", Tier: "default", PlatformBps: 1000}}},
		"no rules":        {Version: "v1"},
		"bps over 100%":   {Version: "v1", Rules: []FeeRuleConfig{{EventType: "tip", Tier: "default", PlatformBps: 10_001}}},
		"duplicate rule": {Version: "v1", Rules: []FeeRuleConfig{
			{EventType: "tip", Tier: "default", PlatformBps: 1000},
			{EventType: "TIP", Tier: "Default", PlatformBps: 500},
		}},
		"pool over 100%": {Version: "v1",
			Rules:     []FeeRuleConfig{{EventType: "tip", Tier: "default", PlatformBps: 1000}},
			PrizePool: PrizePoolConfig{AttendanceThreshold: 500, PercentBps: []int64{6000, 5000}},
		},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateFeeSchedule(cfg))
		})
	}
}

func TestNewFeeScheduleHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fees.yml")
	content := `fees:
  version: "2026-10-01"
  rules:
    - eventType: tip
      tier: default
      platformBps: 1500
  prizePool:
    attendanceThreshold: 200
    percentBps: [5000, 5000]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewFeeScheduleHolder(Config{FeesConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "2026-10-01", cfg.Version)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, int64(1500), cfg.Rules[0].PlatformBps)
	assert.Equal(t, 200, cfg.PrizePool.AttendanceThreshold)
	assert.Equal(t, path, holder.Source())
}

func TestFeeScheduleHolderNotifiesListeners(t *testing.T) {
	holder, err := NewFeeScheduleHolderFromConfig(DefaultFeeScheduleConfig())
	require.NoError(t, err)

	var seen []string
	holder.OnChange(func(cfg FeeScheduleConfig) { seen = append(seen, cfg.Version) })

	next := DefaultFeeScheduleConfig()
	next.Version = "default-v2"
	holder.Set(next)

	assert.Equal(t, []string{"default-v2"}, seen)
	assert.Equal(t, "default-v2", holder.Get().Version)
}
