package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/playgroundx/settlement/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyIngressFan = "ingress:fan:%s:%s"

// IngressLimiter throttles event submissions per fan and source. A nil or
// disabled limiter allows everything.
type IngressLimiter struct {
	limiter *Limiter
	rate    float64
	burst   int
}

func NewIngressLimiter(cfg config.Config, client *redis.Client) *IngressLimiter {
	if client == nil || !cfg.Ingress.RateLimitEnabled {
		return nil
	}
	if cfg.Ingress.RateLimitCapacity <= 0 || cfg.Ingress.RateLimitRefillRate <= 0 {
		return nil
	}
	return &IngressLimiter{
		limiter: NewLimiter(client),
		rate:    cfg.Ingress.RateLimitRefillRate,
		burst:   int(cfg.Ingress.RateLimitCapacity),
	}
}

func (l *IngressLimiter) Enabled() bool {
	return l != nil && l.limiter != nil
}

func (l *IngressLimiter) Allow(ctx context.Context, source, fanID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.limiter.Allow(ctx, IngressKey(source, fanID), l.rate, l.burst)
}

func IngressKey(source, fanID string) string {
	return fmt.Sprintf(keyIngressFan, strings.TrimSpace(source), strings.TrimSpace(fanID))
}
