package exptech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-relay/internal/domain"
	"github.com/couchcryptid/quake-relay/internal/observability"
)

// StationFetcher downloads the full station directory.
type StationFetcher interface {
	FetchStations(ctx context.Context) (domain.StationDirectory, error)
}

// StationCache holds the last fetched station directory and refreshes it
// once the TTL has elapsed since the last successful fetch.
type StationCache struct {
	fetcher StationFetcher
	ttl     time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	stations  domain.StationDirectory
	fetchedAt time.Time
}

// NewStationCache wraps fetcher with a TTL cache.
func NewStationCache(fetcher StationFetcher, ttl time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *StationCache {
	return &StationCache{
		fetcher: fetcher,
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Stations returns the cached directory, refreshing it when stale. On a
// failed refresh the previous directory is returned unchanged; nil means no
// directory has ever been fetched.
func (c *StationCache) Stations(ctx context.Context) domain.StationDirectory {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stations != nil && c.clock.Since(c.fetchedAt) < c.ttl {
		return c.stations
	}

	dir, err := c.fetcher.FetchStations(ctx)
	if err != nil {
		c.metrics.StationRefreshes.WithLabelValues("error").Inc()
		c.logger.Warn("station directory refresh failed",
			"error", err,
			"stale", c.stations != nil,
		)
		return c.stations
	}

	if dir == nil {
		dir = domain.StationDirectory{}
	}
	c.stations = dir
	c.fetchedAt = c.clock.Now()
	c.metrics.StationRefreshes.WithLabelValues("success").Inc()
	c.metrics.StationsCached.Set(float64(len(dir)))
	c.logger.Info("station directory refreshed", "stations", len(dir))
	return c.stations
}
