package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
)

const defaultEventTimeout = 3 * time.Second

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	// ResetTime is in whole seconds, rounded up.
	ResetTime int `json:"reset_time"`
}

// Limiter decides whether further attempts are permitted for an identifier,
// keeping its state in a Store of timestamped attempt records.
//
// Evaluations are not serialized: two concurrent failures for the same key
// may both be counted against the same ceiling.
type Limiter struct {
	store        Store
	policies     Policies
	logger       *zap.Logger
	metrics      *MetricsCollector
	notifier     Notifier
	eventTimeout time.Duration
	now          func() time.Time

	events sync.WaitGroup
}

type Option func(*Limiter)

func WithMetrics(mc *MetricsCollector) Option {
	return func(l *Limiter) { l.metrics = mc }
}

// WithNotifier publishes block, denial and fail-open events to n. Each
// publish runs in the background bounded by timeout.
func WithNotifier(n Notifier, timeout time.Duration) Option {
	return func(l *Limiter) {
		l.notifier = n
		if timeout > 0 {
			l.eventTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter validates policies and returns a limiter over store. The
// policies are copied; later changes to the argument have no effect.
func NewLimiter(store Store, policies Policies, logger *zap.Logger, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("rate limit store is required")
	}
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: no policies configured", ErrInvalidPolicy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	for t, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPolicy, t, err)
		}
		if p.Window > p.BlockDuration {
			logger.Warn("Rate limit window exceeds block duration, failures older than the block duration are purged early",
				zap.String("type", string(t)),
				zap.Duration("window", p.Window),
				zap.Duration("block_duration", p.BlockDuration))
		}
	}

	l := &Limiter{
		store:        store,
		policies:     policies.clone(),
		logger:       logger,
		eventTimeout: defaultEventTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the policy registered for t.
func (l *Limiter) Policy(t Type) (Policy, bool) {
	p, ok := l.policies[t]
	return p, ok
}

// Policies returns a copy of the policy table.
func (l *Limiter) Policies() Policies {
	return l.policies.clone()
}

// CheckAuth evaluates an authentication attempt. An empty t means TypeAuth.
func (l *Limiter) CheckAuth(ctx context.Context, identifier string, success bool, t Type) (Decision, error) {
	if t == "" {
		t = TypeAuth
	}
	return l.Evaluate(ctx, identifier, success, t)
}

// CheckAPI throttles general API traffic. Every call is counted as an
// attempt, so the ceiling bounds calls per window.
func (l *Limiter) CheckAPI(ctx context.Context, identifier string) (Decision, error) {
	return l.Evaluate(ctx, identifier, false, TypeAPIGeneral)
}

// Evaluate records the outcome of an attempt and decides whether further
// attempts are permitted. Only caller errors (unknown type, empty
// identifier) are returned; store failures fail open.
func (l *Limiter) Evaluate(ctx context.Context, identifier string, success bool, t Type) (Decision, error) {
	policy, ok := l.policies[t]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if identifier == "" {
		return Decision{}, ErrInvalidIdentifier
	}

	key := Key(t, identifier)
	decision, event, err := l.evaluate(ctx, identifier, key, success, t, policy)
	if err != nil {
		decision = Decision{
			Allowed:   true,
			Remaining: policy.MaxAttempts,
			ResetTime: ceilSeconds(policy.Window),
		}
		l.logger.Error("Rate limit evaluation failed, allowing attempt",
			zap.String("type", string(t)),
			zap.String("key", key),
			zap.Bool("success", success),
			zap.Error(err))
		l.metrics.observe(t, outcomeFailOpen)
		l.emit(ctx, l.newEvent(models.EventFailOpen, t, identifier, key, decision, 0, err))
		return decision, nil
	}

	switch {
	case event == nil:
		l.metrics.observe(t, outcomeAllowed)
	case event.Kind == models.EventBlocked:
		l.metrics.observe(t, outcomeBlocked)
		l.logger.Warn("Rate limit block triggered",
			zap.String("type", string(t)),
			zap.String("key", key),
			zap.Int("attempt_count", event.AttemptCount),
			zap.Int("reset_seconds", decision.ResetTime))
		l.emit(ctx, *event)
	default:
		l.metrics.observe(t, outcomeDenied)
		l.emit(ctx, *event)
	}

	return decision, nil
}

// evaluate runs the store round-trips for one call. A non-nil event is
// returned for block and denial outcomes.
func (l *Limiter) evaluate(ctx context.Context, identifier, key string, success bool, t Type, policy Policy) (decision Decision, event *models.RateLimitEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attempt store panic: %v", r)
		}
	}()

	now := l.now().UTC()
	windowStart := now.Add(-policy.Window)
	blockStart := now.Add(-policy.BlockDuration)

	purged, err := l.store.PurgeExpired(ctx, string(t), blockStart)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("purge expired attempts: %w", err)
	}
	if purged > 0 {
		l.logger.Debug("Purged expired attempt records",
			zap.String("type", string(t)),
			zap.Int64("count", purged))
	}

	block, err := l.store.LatestBlock(ctx, key, blockStart)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("find active block: %w", err)
	}
	if block != nil {
		decision = Decision{
			Allowed:   false,
			Remaining: 0,
			ResetTime: ceilSeconds(block.CreatedAt.Add(policy.BlockDuration).Sub(now)),
		}
		ev := l.newEvent(models.EventDenied, t, identifier, key, decision, block.AttemptCount, nil)
		return decision, &ev, nil
	}

	count, err := l.store.CountFailures(ctx, key, windowStart)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("count failed attempts: %w", err)
	}

	used := count
	if !success {
		used = count + 1
		if err := l.store.Insert(ctx, l.newRecord(key, t, now, used, false)); err != nil {
			return Decision{}, nil, fmt.Errorf("record failed attempt: %w", err)
		}
		if used >= policy.MaxAttempts {
			if err := l.store.Insert(ctx, l.newRecord(key, t, now, used, true)); err != nil {
				return Decision{}, nil, fmt.Errorf("record block: %w", err)
			}
			decision = Decision{
				Allowed:   false,
				Remaining: 0,
				ResetTime: ceilSeconds(policy.BlockDuration),
			}
			ev := l.newEvent(models.EventBlocked, t, identifier, key, decision, used, nil)
			return decision, &ev, nil
		}
	} else if err := l.store.ResetFailures(ctx, key); err != nil {
		return Decision{}, nil, fmt.Errorf("reset failed attempts: %w", err)
	}

	return Decision{
		Allowed:   true,
		Remaining: max(0, policy.MaxAttempts-used),
		ResetTime: ceilSeconds(policy.Window),
	}, nil, nil
}

func (l *Limiter) newRecord(key string, t Type, at time.Time, attemptCount int, blocked bool) models.AttemptRecord {
	return models.AttemptRecord{
		ID:           uuid.NewString(),
		Identifier:   key,
		LimitType:    string(t),
		CreatedAt:    at,
		AttemptCount: attemptCount,
		Blocked:      blocked,
	}
}

func (l *Limiter) newEvent(kind models.RateLimitEventKind, t Type, identifier, key string, d Decision, attemptCount int, cause error) models.RateLimitEvent {
	ev := models.RateLimitEvent{
		EventID:      uuid.NewString(),
		Kind:         kind,
		LimitType:    string(t),
		Identifier:   identifier,
		Key:          key,
		Allowed:      d.Allowed,
		Remaining:    d.Remaining,
		ResetSeconds: d.ResetTime,
		AttemptCount: attemptCount,
		OccurredAt:   l.now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return ev
}

func (l *Limiter) emit(ctx context.Context, event models.RateLimitEvent) {
	if l.notifier == nil {
		return
	}

	l.events.Add(1)
	go func() {
		defer l.events.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.eventTimeout)
		defer cancel()

		if err := l.notifier.Publish(pubCtx, event); err != nil {
			l.logger.Warn("Failed to publish rate limit event",
				zap.String("event_id", event.EventID),
				zap.String("kind", string(event.Kind)),
				zap.String("key", event.Key),
				zap.Error(err))
		}
	}()
}

// Close waits for in-flight event publishes.
func (l *Limiter) Close() {
	l.events.Wait()
}

// ceilSeconds rounds d up to whole seconds, clamping negatives to zero.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
