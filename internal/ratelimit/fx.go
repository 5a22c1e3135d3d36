package ratelimit

import "go.uber.org/fx"

// Module shares one redis client between the ingest limiter and the
// scheduler's creator lock. Both degrade to no-ops when REDIS_URL is unset.
var Module = fx.Module("ratelimit",
	fx.Provide(
		NewRedisClient,
		NewIngressLimiter,
		NewCreatorLock,
	),
)
