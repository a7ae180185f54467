package factory

import (
	"time"

	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/config"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
)

// policiesFromConfig applies environment overrides to the built-in table.
// Known types take any non-zero field; a new type is registered only when
// all three fields are given.
func policiesFromConfig(cfg config.RateLimitConfig, logger *zap.Logger) ratelimit.Policies {
	policies := ratelimit.DefaultPolicies()

	for name, o := range cfg.Overrides {
		t := ratelimit.Type(name)
		current, known := policies[t]

		if !known {
			if o.Window <= 0 || o.MaxAttempts <= 0 || o.BlockDuration <= 0 {
				logger.Warn("Ignoring incomplete policy for unknown rate limit type",
					zap.String("type", name))
				continue
			}
			policies = policies.With(t, ratelimit.Policy{
				Window:        o.Window,
				MaxAttempts:   o.MaxAttempts,
				BlockDuration: o.BlockDuration,
			})
			logger.Info("Registered rate limit type from environment", zap.String("type", name))
			continue
		}

		if o.Window > 0 {
			current.Window = o.Window
		}
		if o.MaxAttempts > 0 {
			current.MaxAttempts = o.MaxAttempts
		}
		if o.BlockDuration > 0 {
			current.BlockDuration = o.BlockDuration
		}
		policies = policies.With(t, current)
		logger.Info("Rate limit policy overridden",
			zap.String("type", name),
			zap.Duration("window", current.Window),
			zap.Int("max_attempts", current.MaxAttempts),
			zap.Duration("block_duration", current.BlockDuration))
	}

	return policies
}

// retentionByType maps each type to its block duration, the age after which
// its records are garbage.
func retentionByType(policies ratelimit.Policies) map[string]time.Duration {
	out := make(map[string]time.Duration, len(policies))
	for t, p := range policies {
		out[string(t)] = p.BlockDuration
	}
	return out
}
