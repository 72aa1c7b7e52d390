package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-relay/internal/domain"
	"github.com/couchcryptid/quake-relay/internal/observability"
	"github.com/couchcryptid/quake-relay/internal/state"
)

// RealtimeFetcher reads the current station readings from upstream.
type RealtimeFetcher interface {
	FetchRealtime(ctx context.Context) (*domain.RealtimePayload, error)
}

// StationSource returns the station directory, or nil when none is available.
type StationSource interface {
	Stations(ctx context.Context) domain.StationDirectory
}

// Broadcaster pushes a full area snapshot to subscribers.
type Broadcaster interface {
	Broadcast(snapshot map[int]domain.AreaStatus)
}

// ChangePublisher forwards area changes to an external sink.
type ChangePublisher interface {
	PublishChanges(ctx context.Context, changes []domain.AreaChange) error
}

// Settings controls loop timing.
type Settings struct {
	Interval       time.Duration
	HeartbeatTicks int
}

// Pipeline is the fetch-reconcile-broadcast poll loop.
type Pipeline struct {
	realtime    RealtimeFetcher
	stations    StationSource
	store       *state.Store
	reconciler  *Reconciler
	broadcaster Broadcaster
	publisher   ChangePublisher
	clock       clockwork.Clock
	settings    Settings
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool

	// Owned by the loop goroutine.
	lastStart       time.Time
	ticks           int
	metadataMissing bool
}

// New creates a Pipeline. publisher may be nil.
func New(
	realtime RealtimeFetcher,
	stations StationSource,
	store *state.Store,
	broadcaster Broadcaster,
	publisher ChangePublisher,
	clock clockwork.Clock,
	settings Settings,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Pipeline {
	if settings.HeartbeatTicks <= 0 {
		settings.HeartbeatTicks = 60
	}
	return &Pipeline{
		realtime:    realtime,
		stations:    stations,
		store:       store,
		reconciler:  NewReconciler(store, clock),
		broadcaster: broadcaster,
		publisher:   publisher,
		clock:       clock,
		settings:    settings,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckReadiness returns nil once a poll cycle has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no successful poll cycle yet")
	}
	return nil
}

// Run ticks the loop every interval until ctx is cancelled. The first cycle
// runs immediately.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("poll loop started",
		"interval", p.settings.Interval,
		"areas", p.store.Len(),
		"heartbeat_ticks", p.settings.HeartbeatTicks,
	)
	p.metrics.PollLoopRunning.Set(1)
	defer p.metrics.PollLoopRunning.Set(0)

	ticker := p.clock.NewTicker(p.settings.Interval)
	defer ticker.Stop()

	p.Tick(ctx, p.clock.Now())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poll loop stopping", "reason", ctx.Err())
			return nil
		case now := <-ticker.Chan():
			p.Tick(ctx, now)
		}
	}
}

// Tick runs one cycle started at now. It is a no-op when called less than one
// interval after the previous cycle start, and returns whether a cycle ran.
// Tick is not safe for concurrent use.
func (p *Pipeline) Tick(ctx context.Context, now time.Time) bool {
	if !p.lastStart.IsZero() && now.Sub(p.lastStart) < p.settings.Interval {
		p.metrics.Cycles.WithLabelValues("rate_limited").Inc()
		return false
	}
	p.lastStart = now
	p.ticks++
	heartbeat := p.ticks%p.settings.HeartbeatTicks == 0

	start := p.clock.Now()
	payload, err := p.realtime.FetchRealtime(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// Connectivity transitions are logged by the client.
		p.metrics.Cycles.WithLabelValues("fetch_error").Inc()
		p.logger.Debug("realtime fetch failed, skipping cycle", "error", err)
		return true
	}

	changes := p.reconcile(ctx, payload)
	p.logChanges(changes)
	p.publish(ctx, changes)

	snapshot := p.store.Snapshot()
	p.broadcaster.Broadcast(snapshot)
	if heartbeat {
		p.metrics.Broadcasts.WithLabelValues("heartbeat").Inc()
		p.logSnapshot(snapshot)
	} else {
		p.metrics.Broadcasts.WithLabelValues("cycle").Inc()
	}

	p.ready.Store(true)
	p.metrics.Cycles.WithLabelValues("success").Inc()
	p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds())
	return true
}

func (p *Pipeline) reconcile(ctx context.Context, payload *domain.RealtimePayload) []domain.AreaChange {
	if payload.Stations == nil {
		return nil
	}

	changes, err := p.reconciler.Reconcile(payload, p.stations.Stations(ctx))
	if errors.Is(err, domain.ErrMissingMetadata) {
		p.metrics.MissingMetadata.Inc()
		if !p.metadataMissing {
			p.logger.Warn("station metadata unavailable, skipping reconcile")
		}
		p.metadataMissing = true
		return nil
	}
	if p.metadataMissing {
		p.logger.Info("station metadata available again")
		p.metadataMissing = false
	}
	return changes
}

func (p *Pipeline) publish(ctx context.Context, changes []domain.AreaChange) {
	if p.publisher == nil || len(changes) == 0 {
		return
	}
	if err := p.publisher.PublishChanges(ctx, changes); err != nil {
		p.logger.Warn("publish area changes failed", "error", err, "changes", len(changes))
	}
}

func (p *Pipeline) logChanges(changes []domain.AreaChange) {
	p.metrics.AreaChanges.Add(float64(len(changes)))
	for _, c := range changes {
		p.logger.Info("area intensity changed",
			"area_code", c.Status.Code,
			"area", c.Status.Name,
			"station_id", c.StationID,
			"pga", c.Status.PGA,
			"intensity", c.Status.Intensity,
			"intensity_text", c.Status.IntensityText,
			"lat", c.Lat,
			"lon", c.Lon,
		)
	}
}

func (p *Pipeline) logSnapshot(snapshot map[int]domain.AreaStatus) {
	for _, code := range p.store.Codes() {
		st := snapshot[code]
		attrs := []any{
			"area_code", st.Code,
			"area", st.Name,
			"pga", st.PGA,
			"intensity", st.Intensity,
			"intensity_text", st.IntensityText,
		}
		if st.LastUpdate != nil {
			attrs = append(attrs, "last_update", st.LastUpdate.Format(time.RFC3339))
		}
		p.logger.Info("area status", attrs...)
	}
}
