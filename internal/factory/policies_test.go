package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/config"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
)

func TestPoliciesFromConfig(t *testing.T) {
	policies := policiesFromConfig(config.RateLimitConfig{
		Overrides: map[string]config.PolicyOverride{
			"auth":          {MaxAttempts: 10},
			"comment_post":  {Window: time.Minute, MaxAttempts: 20, BlockDuration: 10 * time.Minute},
			"partial_thing": {Window: time.Minute},
		},
	}, zap.NewNop())

	assert.Equal(t, ratelimit.Policy{Window: 15 * time.Minute, MaxAttempts: 10, BlockDuration: time.Hour}, policies[ratelimit.TypeAuth])
	assert.Equal(t, ratelimit.Policy{Window: time.Minute, MaxAttempts: 20, BlockDuration: 10 * time.Minute}, policies["comment_post"])
	assert.NotContains(t, policies, ratelimit.Type("partial_thing"))
	assert.Len(t, policies, 5)

	// The built-in table is never mutated.
	assert.Equal(t, 5, ratelimit.DefaultPolicies()[ratelimit.TypeAuth].MaxAttempts)
}

func TestRetentionByType(t *testing.T) {
	retention := retentionByType(ratelimit.DefaultPolicies())
	assert.Equal(t, 24*time.Hour, retention["signup"])
	assert.Equal(t, 5*time.Minute, retention["api_general"])
}
