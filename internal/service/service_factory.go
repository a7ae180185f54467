package service

import (
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	limiter          *ratelimit.Limiter
	blocks           BlockSearcher
	stats            StatsReader
	health           HealthFunc
	logger           *zap.Logger
	rateLimitService *RateLimitService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	limiter *ratelimit.Limiter,
	blocks BlockSearcher,
	stats StatsReader,
	health HealthFunc,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		limiter: limiter,
		blocks:  blocks,
		stats:   stats,
		health:  health,
		logger:  logger,
	}
}

// RateLimitService returns the rate limit service instance (singleton)
func (f *ServiceFactory) RateLimitService() *RateLimitService {
	if f.rateLimitService == nil {
		f.rateLimitService = NewRateLimitService(
			f.limiter,
			f.blocks,
			f.stats,
			f.health,
			f.logger,
		)
	}
	return f.rateLimitService
}

// Cleanup cleans up all services
func (f *ServiceFactory) Cleanup() {
	if f.rateLimitService != nil {
		f.rateLimitService.Cleanup()
	}
}
