package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/events"
	"github.com/VahantSharma/Bloggly-Backend/internal/models"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrFeatureDisabled = errors.New("feature not configured")
)

const (
	defaultStatsHours = 24
	maxStatsHours     = 24 * 30
	maxBlockResults   = 500
)

// BlockSearcher looks up indexed block events.
type BlockSearcher interface {
	SearchBlocks(ctx context.Context, q events.BlockQuery) ([]models.RateLimitEvent, error)
}

// StatsReader rolls up recorded events.
type StatsReader interface {
	Stats(ctx context.Context, since time.Time) ([]events.EventStat, error)
}

// HealthFunc reports per-component health; an empty map means healthy.
type HealthFunc func(ctx context.Context) map[string]error

// RateLimitService exposes the limiter and its read-side companions to the
// transport layer.
type RateLimitService struct {
	limiter *ratelimit.Limiter
	blocks  BlockSearcher
	stats   StatsReader
	health  HealthFunc
	logger  *zap.Logger
	now     func() time.Time
}

// EvaluateRequest reports the outcome of one attempt.
type EvaluateRequest struct {
	Identifier string `json:"identifier"`
	Success    bool   `json:"success"`
	Type       string `json:"type"`
}

// APICallRequest identifies the caller of a throttled API call.
type APICallRequest struct {
	Identifier string `json:"identifier"`
}

// PolicyView is the wire form of a policy, durations in whole seconds.
type PolicyView struct {
	Type                 string `json:"type"`
	WindowSeconds        int64  `json:"window_seconds"`
	MaxAttempts          int    `json:"max_attempts"`
	BlockDurationSeconds int64  `json:"block_duration_seconds"`
}

// StatsReport is the roll-up for the last Hours hours.
type StatsReport struct {
	Hours int                `json:"hours"`
	Since time.Time          `json:"since"`
	Stats []events.EventStat `json:"stats"`
}

// NewRateLimitService wires the limiter with optional block search, stats
// and health reporting; nil companions disable the matching operations.
func NewRateLimitService(limiter *ratelimit.Limiter, blocks BlockSearcher, stats StatsReader, health HealthFunc, logger *zap.Logger) *RateLimitService {
	if logger == nil {
		logger = util.Get()
	}
	return &RateLimitService{
		limiter: limiter,
		blocks:  blocks,
		stats:   stats,
		health:  health,
		logger:  logger,
		now:     time.Now,
	}
}

// Evaluate runs the limiter for an explicit type.
func (s *RateLimitService) Evaluate(ctx context.Context, req *EvaluateRequest) (ratelimit.Decision, error) {
	if req == nil || req.Type == "" {
		return ratelimit.Decision{}, fmt.Errorf("%w: type is required", ErrInvalidInput)
	}
	return s.evaluate(ctx, req.Identifier, req.Success, ratelimit.Type(req.Type))
}

// CheckAuth evaluates an authentication attempt; the type defaults to auth.
func (s *RateLimitService) CheckAuth(ctx context.Context, req *EvaluateRequest) (ratelimit.Decision, error) {
	if req == nil {
		return ratelimit.Decision{}, fmt.Errorf("%w: request body is required", ErrInvalidInput)
	}
	d, err := s.limiter.CheckAuth(ctx, req.Identifier, req.Success, ratelimit.Type(req.Type))
	return d, translate(err)
}

// CheckAPI counts one general API call.
func (s *RateLimitService) CheckAPI(ctx context.Context, req *APICallRequest) (ratelimit.Decision, error) {
	if req == nil {
		return ratelimit.Decision{}, fmt.Errorf("%w: request body is required", ErrInvalidInput)
	}
	d, err := s.limiter.CheckAPI(ctx, req.Identifier)
	return d, translate(err)
}

func (s *RateLimitService) evaluate(ctx context.Context, identifier string, success bool, t ratelimit.Type) (ratelimit.Decision, error) {
	d, err := s.limiter.Evaluate(ctx, identifier, success, t)
	return d, translate(err)
}

// Policies lists the configured policies ordered by type.
func (s *RateLimitService) Policies() []PolicyView {
	policies := s.limiter.Policies()
	out := make([]PolicyView, 0, len(policies))
	for _, t := range policies.Types() {
		p := policies[t]
		out = append(out, PolicyView{
			Type:                 string(t),
			WindowSeconds:        int64(p.Window / time.Second),
			MaxAttempts:          p.MaxAttempts,
			BlockDurationSeconds: int64(p.BlockDuration / time.Second),
		})
	}
	return out
}

// SearchBlocks returns recent block events, newest first.
func (s *RateLimitService) SearchBlocks(ctx context.Context, identifier, limitType string, size int) ([]models.RateLimitEvent, error) {
	if s.blocks == nil {
		return nil, fmt.Errorf("%w: block search requires elasticsearch", ErrFeatureDisabled)
	}
	if limitType != "" {
		if _, ok := s.limiter.Policy(ratelimit.Type(limitType)); !ok {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidInput, ratelimit.ErrUnknownType, limitType)
		}
	}
	if size < 0 || size > maxBlockResults {
		return nil, fmt.Errorf("%w: size must be between 0 and %d", ErrInvalidInput, maxBlockResults)
	}

	return s.blocks.SearchBlocks(ctx, events.BlockQuery{
		Identifier: identifier,
		LimitType:  limitType,
		Size:       size,
	})
}

// Stats returns the event roll-up for the last hours; zero means one day.
func (s *RateLimitService) Stats(ctx context.Context, hours int) (*StatsReport, error) {
	if s.stats == nil {
		return nil, fmt.Errorf("%w: stats require clickhouse", ErrFeatureDisabled)
	}
	if hours == 0 {
		hours = defaultStatsHours
	}
	if hours < 0 || hours > maxStatsHours {
		return nil, fmt.Errorf("%w: hours must be between 1 and %d", ErrInvalidInput, maxStatsHours)
	}

	since := s.now().UTC().Add(-time.Duration(hours) * time.Hour)
	stats, err := s.stats.Stats(ctx, since)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = []events.EventStat{}
	}
	return &StatsReport{Hours: hours, Since: since, Stats: stats}, nil
}

// HealthCheck returns an error naming every unhealthy component.
func (s *RateLimitService) HealthCheck(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	var errs []error
	for name, err := range s.health(ctx) {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Cleanup waits for in-flight event publishes.
func (s *RateLimitService) Cleanup() {
	s.limiter.Close()
	s.logger.Info("Rate limit service cleaned up")
}

// translate marks caller errors from the limiter as invalid input.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ratelimit.ErrUnknownType) || errors.Is(err, ratelimit.ErrInvalidIdentifier) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return err
}
