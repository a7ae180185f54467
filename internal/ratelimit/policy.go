package ratelimit

import (
	"fmt"
	"sort"
	"time"
)

// Type names a rate limit policy bucket.
type Type string

const (
	TypeAuth          Type = "auth"
	TypeAPIGeneral    Type = "api_general"
	TypePasswordReset Type = "password_reset"
	TypeSignup        Type = "signup"
)

// Policy is the static configuration of one Type.
type Policy struct {
	Window        time.Duration `json:"window"`
	MaxAttempts   int           `json:"max_attempts"`
	BlockDuration time.Duration `json:"block_duration"`
}

func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.BlockDuration <= 0 {
		return fmt.Errorf("block duration must be positive, got %s", p.BlockDuration)
	}
	return nil
}

// Policies maps each known Type to its Policy.
type Policies map[Type]Policy

func DefaultPolicies() Policies {
	return Policies{
		TypeAuth:          {Window: 15 * time.Minute, MaxAttempts: 5, BlockDuration: time.Hour},
		TypeAPIGeneral:    {Window: time.Minute, MaxAttempts: 100, BlockDuration: 5 * time.Minute},
		TypePasswordReset: {Window: time.Hour, MaxAttempts: 3, BlockDuration: time.Hour},
		TypeSignup:        {Window: time.Hour, MaxAttempts: 5, BlockDuration: 24 * time.Hour},
	}
}

// With returns a copy of p where t is set to policy.
func (p Policies) With(t Type, policy Policy) Policies {
	out := p.clone()
	out[t] = policy
	return out
}

// Types returns the registered types in a stable order.
func (p Policies) Types() []Type {
	types := make([]Type, 0, len(p))
	for t := range p {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (p Policies) clone() Policies {
	out := make(Policies, len(p))
	for t, policy := range p {
		out[t] = policy
	}
	return out
}

// Key scopes a caller identifier to a policy type.
func Key(t Type, identifier string) string {
	return string(t) + "_" + identifier
}
