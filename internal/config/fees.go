package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FeeScheduleConfig is the on-disk shape of fees.yml.
type FeeScheduleConfig struct {
	Version   string          `mapstructure:"version"`
	Rules     []FeeRuleConfig `mapstructure:"rules"`
	PrizePool PrizePoolConfig `mapstructure:"prizePool"`
}

type FeeRuleConfig struct {
	EventType   string `mapstructure:"eventType"`
	Tier        string `mapstructure:"tier"`
	PlatformBps int64  `mapstructure:"platformBps"`
	FixedPrice  int64  `mapstructure:"fixedPrice"`
}

// PrizePoolConfig splits a competition pool by placement. Below AttendanceThreshold the
// pool is divided by PercentBps; at or above it FixedAmounts are paid.
type PrizePoolConfig struct {
	AttendanceThreshold int     `mapstructure:"attendanceThreshold"`
	PercentBps          []int64 `mapstructure:"percentBps"`
	FixedAmounts        []int64 `mapstructure:"fixedAmounts"`
}

func DefaultFeeScheduleConfig() FeeScheduleConfig {
	return FeeScheduleConfig{
		Version: "default-v1",
		Rules: []FeeRuleConfig{
			{EventType: "tip", Tier: "default", PlatformBps: 1000},
			{EventType: "tip", Tier: "competition", PlatformBps: 1000},
			{EventType: "unlock", Tier: "confession_basic", PlatformBps: 1000, FixedPrice: 500},
			{EventType: "unlock", Tier: "confession_standard", PlatformBps: 1000, FixedPrice: 2000},
			{EventType: "unlock", Tier: "confession_premium", PlatformBps: 1000, FixedPrice: 5000},
			{EventType: "unlock", Tier: "flash_drop", PlatformBps: 1000},
			{EventType: "unlock", Tier: "xchat", PlatformBps: 1000},
			{EventType: "entry_fee", Tier: "competition", PlatformBps: 1000},
			{EventType: "subscription_charge", Tier: "default", PlatformBps: 1000},
			{EventType: "wallet_topup", Tier: "default", PlatformBps: 0},
		},
		PrizePool: PrizePoolConfig{
			AttendanceThreshold: 500,
			PercentBps:          []int64{4000, 3000, 2000, 1000},
			FixedAmounts:        []int64{100_000, 50_000, 25_000, 10_000},
		},
	}
}

// FeeScheduleHolder keeps the active fee schedule and reloads it when fees.yml changes.
type FeeScheduleHolder struct {
	current atomic.Value // holds FeeScheduleConfig
	source  string

	mu        sync.Mutex
	listeners []func(FeeScheduleConfig)
}

// NewFeeScheduleHolderFromConfig builds a holder without a backing file.
func NewFeeScheduleHolderFromConfig(cfg FeeScheduleConfig) (*FeeScheduleHolder, error) {
	if err := ValidateFeeSchedule(cfg); err != nil {
		return nil, err
	}
	holder := &FeeScheduleHolder{source: "static"}
	holder.current.Store(cfg)
	return holder, nil
}

func NewFeeScheduleHolder(appCfg Config, log *zap.Logger) (*FeeScheduleHolder, error) {
	log = log.Named("config.fees")
	v := viper.New()

	if appCfg.FeesConfigPath != "" {
		v.SetConfigFile(appCfg.FeesConfigPath)
	} else {
		v.SetConfigName("fees")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/playgroundx/config") // Volume-mounted config
		v.AddConfigPath("/etc/playgroundx")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PLAYGROUNDX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fromFile = false
	}

	var cfg FeeScheduleConfig
	if fromFile {
		if err := v.UnmarshalKey("fees", &cfg); err != nil {
			return nil, err
		}
	} else {
		cfg = DefaultFeeScheduleConfig()
		log.Info("fee schedule file not found, using defaults", zap.String("version", cfg.Version))
	}
	if err := ValidateFeeSchedule(cfg); err != nil {
		return nil, err
	}

	holder := &FeeScheduleHolder{source: "defaults"}
	holder.current.Store(cfg)
	if !fromFile {
		return holder, nil
	}
	holder.source = v.ConfigFileUsed()

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated FeeScheduleConfig
		if err := v.UnmarshalKey("fees", &updated); err != nil {
			log.Warn("fee schedule reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := ValidateFeeSchedule(updated); err != nil {
			log.Warn("invalid fee schedule ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if updated.Version == holder.Get().Version {
			log.Warn("fee schedule changed without a version bump, ignored", zap.String("version", updated.Version))
			return
		}
		holder.Set(updated)
		log.Info("fee schedule reloaded", zap.String("file", e.Name), zap.String("version", updated.Version))
	})

	return holder, nil
}

func (h *FeeScheduleHolder) Get() FeeScheduleConfig {
	return h.current.Load().(FeeScheduleConfig)
}

// Source names where the active schedule came from.
func (h *FeeScheduleHolder) Source() string {
	return h.source
}

// Set replaces the active schedule and notifies listeners.
func (h *FeeScheduleHolder) Set(cfg FeeScheduleConfig) {
	h.current.Store(cfg)
	h.mu.Lock()
	listeners := append([]func(FeeScheduleConfig){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnChange registers fn to run after every successful reload.
func (h *FeeScheduleHolder) OnChange(fn func(FeeScheduleConfig)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func ValidateFeeSchedule(cfg FeeScheduleConfig) error {
	if strings.TrimSpace(cfg.Version) == "" {
		return errors.New("fees.version cannot be empty")
	}
	if len(cfg.Rules) == 0 {
		return errors.New("fees.rules cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		eventType := strings.ToLower(strings.TrimSpace(rule.EventType))
		tier := strings.ToLower(strings.TrimSpace(rule.Tier))
		if eventType == "" || tier == "" {
			return fmt.Errorf("fees.rules[%d]: eventType and tier are required", i)
		}
		if rule.PlatformBps < 0 || rule.PlatformBps > 10_000 {
			return fmt.Errorf("fees.rules[%d]: platformBps must be within 0..10000", i)
		}
		if rule.FixedPrice < 0 {
			return fmt.Errorf("fees.rules[%d]: fixedPrice cannot be negative", i)
		}
		key := eventType + "/" + tier
		if _, ok := seen[key]; ok {
			return fmt.Errorf("fees.rules[%d]: duplicate rule %s", i, key)
		}
		seen[key] = struct{}{}
	}

	pool := cfg.PrizePool
	if len(pool.PercentBps) == 0 && len(pool.FixedAmounts) == 0 {
		return nil
	}
	if pool.AttendanceThreshold <= 0 {
		return errors.New("fees.prizePool.attendanceThreshold must be positive")
	}
	var total int64
	for _, bps := range pool.PercentBps {
		if bps < 0 {
			return errors.New("fees.prizePool.percentBps cannot contain negative values")
		}
		total += bps
	}
	if total > 10_000 {
		return errors.New("fees.prizePool.percentBps cannot exceed 10000 in total")
	}
	for _, amount := range pool.FixedAmounts {
		if amount < 0 {
			return errors.New("fees.prizePool.fixedAmounts cannot contain negative values")
		}
	}
	return nil
}
