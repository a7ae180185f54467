package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCeilSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{-time.Second, 0},
		{0, 0},
		{time.Nanosecond, 1},
		{time.Second, 1},
		{time.Second + time.Millisecond, 2},
		{15 * time.Minute, 900},
		{time.Hour, 3600},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ceilSeconds(tc.in), "ceilSeconds(%s)", tc.in)
	}
}

func TestPoliciesWith(t *testing.T) {
	base := DefaultPolicies()
	custom := Policy{Window: time.Minute, MaxAttempts: 10, BlockDuration: 10 * time.Minute}

	out := base.With("comments", custom)

	assert.Equal(t, custom, out["comments"])
	assert.NotContains(t, base, Type("comments"))
	assert.Equal(t, []Type{TypeAPIGeneral, TypeAuth, "comments", TypePasswordReset, TypeSignup}, out.Types())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "auth_10.0.0.1", Key(TypeAuth, "10.0.0.1"))
	assert.Equal(t, "api_general_user_1", Key(TypeAPIGeneral, "user_1"))
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, Policy{Window: time.Second, MaxAttempts: 1, BlockDuration: time.Second}.Validate())
	assert.Error(t, Policy{MaxAttempts: 1, BlockDuration: time.Second}.Validate())
	assert.Error(t, Policy{Window: time.Second, BlockDuration: time.Second}.Validate())
	assert.Error(t, Policy{Window: time.Second, MaxAttempts: 1}.Validate())
}
