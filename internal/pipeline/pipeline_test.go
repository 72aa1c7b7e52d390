package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-relay/internal/domain"
	"github.com/couchcryptid/quake-relay/internal/observability"
	"github.com/couchcryptid/quake-relay/internal/state"
)

// --- mocks ---

type mockFetcher struct {
	mu      sync.Mutex
	payload *domain.RealtimePayload
	err     error
	calls   atomic.Int64
}

func (m *mockFetcher) FetchRealtime(_ context.Context) (*domain.RealtimePayload, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payload, m.err
}

func (m *mockFetcher) set(payload *domain.RealtimePayload, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload, m.err = payload, err
}

type mockStations struct {
	dir domain.StationDirectory
}

func (m *mockStations) Stations(_ context.Context) domain.StationDirectory { return m.dir }

type mockBroadcaster struct {
	mu        sync.Mutex
	snapshots []map[int]domain.AreaStatus
}

func (m *mockBroadcaster) Broadcast(snapshot map[int]domain.AreaStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snapshot)
}

func (m *mockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

type mockPublisher struct {
	batches [][]domain.AreaChange
	err     error
}

func (m *mockPublisher) PublishChanges(_ context.Context, changes []domain.AreaChange) error {
	m.batches = append(m.batches, changes)
	return m.err
}

type fixture struct {
	fetcher     *mockFetcher
	stations    *mockStations
	store       *state.Store
	broadcaster *mockBroadcaster
	publisher   *mockPublisher
	clock       *clockwork.FakeClock
	metrics     *observability.Metrics
	pipeline    *Pipeline
}

func newFixture(heartbeat int) *fixture {
	f := &fixture{
		fetcher:     &mockFetcher{payload: scenarioPayload(5.0, 1)},
		stations:    &mockStations{dir: scenarioStations()},
		store:       state.NewStore([]domain.MonitoredArea{areaA, {Code: 100, Name: "B"}}),
		broadcaster: &mockBroadcaster{},
		publisher:   &mockPublisher{},
		clock:       clockwork.NewFakeClockAt(testStart),
		metrics:     observability.NewMetricsForTesting(),
	}
	f.pipeline = New(
		f.fetcher, f.stations, f.store, f.broadcaster, f.publisher, f.clock,
		Settings{Interval: time.Second, HeartbeatTicks: heartbeat},
		slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics,
	)
	return f
}

// --- tests ---

func TestTick_SuccessBroadcastsFullSnapshot(t *testing.T) {
	f := newFixture(60)

	ran := f.pipeline.Tick(context.Background(), testStart)
	require.True(t, ran)

	require.Equal(t, 1, f.broadcaster.count())
	snap := f.broadcaster.snapshots[0]
	assert.Len(t, snap, 2, "every monitored area is broadcast, not just changed ones")
	assert.Equal(t, 1, snap[106].Intensity)
	assert.Nil(t, snap[100].LastUpdate)

	require.NoError(t, f.pipeline.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Cycles.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.AreaChanges), 0)
}

func TestTick_UnchangedCycleStillBroadcasts(t *testing.T) {
	f := newFixture(60)

	f.pipeline.Tick(context.Background(), testStart)
	f.pipeline.Tick(context.Background(), testStart.Add(time.Second))

	assert.Equal(t, 2, f.broadcaster.count())
	assert.Len(t, f.publisher.batches, 1, "publisher only sees cycles with changes")
}

func TestTick_FetchFailureSkipsCycle(t *testing.T) {
	f := newFixture(60)
	f.fetcher.set(nil, &domain.FetchError{Kind: domain.ErrTimeout, URL: "/api/v2/trem/rts"})

	ran := f.pipeline.Tick(context.Background(), testStart)
	assert.True(t, ran)
	assert.Equal(t, 0, f.broadcaster.count())
	assert.Error(t, f.pipeline.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Cycles.WithLabelValues("fetch_error")), 0)

	st, _ := f.store.Get(106)
	assert.Nil(t, st.LastUpdate)
}

func TestTick_RateLimited(t *testing.T) {
	f := newFixture(60)

	assert.True(t, f.pipeline.Tick(context.Background(), testStart))
	assert.False(t, f.pipeline.Tick(context.Background(), testStart.Add(500*time.Millisecond)))
	assert.True(t, f.pipeline.Tick(context.Background(), testStart.Add(time.Second)))

	assert.Equal(t, int64(2), f.fetcher.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Cycles.WithLabelValues("rate_limited")), 0)
}

func TestTick_FailedCycleStillCountsForRateLimit(t *testing.T) {
	f := newFixture(60)
	f.fetcher.set(nil, errors.New("down"))

	f.pipeline.Tick(context.Background(), testStart)
	assert.False(t, f.pipeline.Tick(context.Background(), testStart.Add(100*time.Millisecond)))
	assert.Equal(t, int64(1), f.fetcher.calls.Load())
}

func TestTick_Heartbeat(t *testing.T) {
	f := newFixture(3)

	for i := range 6 {
		f.pipeline.Tick(context.Background(), testStart.Add(time.Duration(i)*time.Second))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.Broadcasts.WithLabelValues("heartbeat")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(f.metrics.Broadcasts.WithLabelValues("cycle")), 0)
	assert.Equal(t, 6, f.broadcaster.count())
}

func TestTick_FailedHeartbeatTickBroadcastsNothing(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	f.pipeline.Tick(ctx, testStart)
	f.pipeline.Tick(ctx, testStart.Add(time.Second))
	require.Equal(t, 2, f.broadcaster.count())

	f.fetcher.set(nil, &domain.FetchError{Kind: domain.ErrNetwork, URL: "/api/v2/trem/rts"})
	ran := f.pipeline.Tick(ctx, testStart.Add(2*time.Second))
	require.True(t, ran)

	assert.Equal(t, 2, f.broadcaster.count())
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.Broadcasts.WithLabelValues("heartbeat")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.Broadcasts.WithLabelValues("cycle")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Cycles.WithLabelValues("fetch_error")), 0)
}

func TestTick_MissingMetadataStillBroadcasts(t *testing.T) {
	f := newFixture(60)
	f.stations.dir = nil

	f.pipeline.Tick(context.Background(), testStart)

	assert.Equal(t, 1, f.broadcaster.count())
	assert.Empty(t, f.publisher.batches)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.MissingMetadata), 0)
	st, _ := f.store.Get(106)
	assert.Nil(t, st.LastUpdate)
}

func TestTick_PublishErrorIsNotFatal(t *testing.T) {
	f := newFixture(60)
	f.publisher.err = errors.New("kafka down")

	f.pipeline.Tick(context.Background(), testStart)

	require.Len(t, f.publisher.batches, 1)
	assert.Equal(t, "S1", f.publisher.batches[0][0].StationID)
	assert.Equal(t, 1, f.broadcaster.count())
	assert.NoError(t, f.pipeline.CheckReadiness(context.Background()))
}

func TestTick_NilPublisher(t *testing.T) {
	f := newFixture(60)
	f.pipeline.publisher = nil

	assert.NotPanics(t, func() { f.pipeline.Tick(context.Background(), testStart) })
	assert.Equal(t, 1, f.broadcaster.count())
}

func TestRun_TicksOnIntervalAndStops(t *testing.T) {
	f := newFixture(60)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.pipeline.Run(ctx) }()

	require.Eventually(t, func() bool { return f.fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	blockCtx, blockCancel := context.WithTimeout(ctx, time.Second)
	defer blockCancel()
	require.NoError(t, f.clock.BlockUntilContext(blockCtx, 1))

	f.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return f.fetcher.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.PollLoopRunning), 0)
}

func TestRun_ContextCancellation(t *testing.T) {
	f := newFixture(60)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.pipeline.Run(ctx)
	require.NoError(t, err)
}
