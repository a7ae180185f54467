package ratelimit

import "errors"

var (
	// ErrUnknownType is a configuration error: the requested type has no policy.
	ErrUnknownType       = errors.New("unknown rate limit type")
	ErrInvalidIdentifier = errors.New("rate limit identifier must not be empty")
	ErrInvalidPolicy     = errors.New("invalid rate limit policy")
)
