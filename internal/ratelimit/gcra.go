package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// gcraScript implements the generic cell rate algorithm: one key holds the
// theoretical arrival time (TAT) of the next request in milliseconds. A
// request is admitted when it arrives no earlier than TAT minus the burst
// tolerance. Redis' clock is used so replicas agree on "now".
//
// Returns {allowed, remaining, retry_after_ms}; numbers travel as strings
// because redis truncates lua floats.
var gcraScript = redis.NewScript(`
local emission = tonumber(ARGV[1])
local tolerance = tonumber(ARGV[2])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local tat = tonumber(redis.call("GET", KEYS[1]))
if tat == nil or tat < now then
  tat = now
end

local next_tat = tat + emission
local allow_at = next_tat - tolerance
if now < allow_at then
  return {0, "0", tostring(allow_at - now)}
end

redis.call("SET", KEYS[1], tostring(next_tat), "PX", math.ceil(next_tat - now))
local remaining = math.floor((now - allow_at) / emission)
return {1, tostring(remaining), "0"}
`)

// Limiter admits requests per key at a steady rate with a burst allowance.
type Limiter struct {
	client *redis.Client
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewLimiter(client *redis.Client) *Limiter {
	if client == nil {
		return nil
	}
	return &Limiter{client: client}
}

// Allow consumes one request from key. rate is requests per second, burst the
// number that may arrive back to back.
func (l *Limiter) Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("rate limiter not configured")
	}
	if key == "" {
		return nil, errors.New("rate limiter key is empty")
	}
	emission, tolerance, err := gcraParams(rate, burst)
	if err != nil {
		return nil, err
	}

	reply, err := gcraScript.Run(ctx, l.client, []string{key}, emission, tolerance).Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) != 3 {
		return nil, errors.New("unexpected rate limit script reply")
	}
	return &Result{
		Allowed:    toInt(reply[0]) == 1,
		Limit:      burst,
		Remaining:  int(toFloat(reply[1])),
		RetryAfter: time.Duration(toFloat(reply[2]) * float64(time.Millisecond)),
	}, nil
}

// gcraParams converts rate and burst to the emission interval and the burst
// tolerance, both in milliseconds.
func gcraParams(rate float64, burst int) (float64, float64, error) {
	if rate <= 0 || burst <= 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return 0, 0, errors.New("rate limiter rate and burst must be positive")
	}
	emission := 1000 / rate
	return emission, emission * float64(burst), nil
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case string:
		parsed, _ := strconv.ParseFloat(n, 64)
		return parsed
	}
	return 0
}
