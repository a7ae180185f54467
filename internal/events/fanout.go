package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
)

// Sink receives rate limit events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event models.RateLimitEvent) error
}

var _ ratelimit.Notifier = (*Fanout)(nil)

// Fanout delivers every event to all sinks concurrently. A failing sink does
// not stop delivery to the others.
type Fanout struct {
	sinks  []Sink
	logger *zap.Logger
}

func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{sinks: sinks, logger: logger}
}

// Len reports the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Publish returns the joined errors of every sink that failed.
func (f *Fanout) Publish(ctx context.Context, event models.RateLimitEvent) error {
	errs := make([]error, len(f.sinks))

	var g errgroup.Group
	for i, sink := range f.sinks {
		g.Go(func() error {
			if err := sink.Publish(ctx, event); err != nil {
				errs[i] = fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		f.logger.Debug("Rate limit event delivery incomplete",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
	return err
}
