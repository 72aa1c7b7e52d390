package exptech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/couchcryptid/quake-relay/internal/config"
	"github.com/couchcryptid/quake-relay/internal/domain"
	"github.com/couchcryptid/quake-relay/internal/observability"
)

// Pool names a static group of interchangeable upstream hosts.
type Pool string

const (
	// PoolAPI serves the station directory.
	PoolAPI Pool = "api"
	// PoolLB serves load-balanced real-time reads.
	PoolLB Pool = "lb"
)

const (
	StationPath  = "/api/v1/trem/station"
	RealtimePath = "/api/v2/trem/rts"
)

// Client fetches JSON documents from the ExpTech API.
type Client struct {
	httpClient      *http.Client
	scheme          string
	pools           map[Pool][]string
	stationTimeout  time.Duration
	realtimeTimeout time.Duration
	pick            func(n int) int
	logger          *slog.Logger
	metrics         *observability.Metrics

	mu      sync.Mutex
	offline bool
}

// NewClient creates a client for the configured endpoint pools.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	metrics.UpstreamOnline.Set(1)
	return &Client{
		// Per-request deadlines come from the context; no client-wide timeout.
		httpClient: &http.Client{},
		scheme:     cfg.UpstreamScheme,
		pools: map[Pool][]string{
			PoolAPI: cfg.APIServers,
			PoolLB:  cfg.LBServers,
		},
		stationTimeout:  cfg.StationTimeout,
		realtimeTimeout: cfg.RealtimeTimeout,
		pick:            rand.IntN,
		logger:          logger,
		metrics:         metrics,
	}
}

// FetchStations downloads the station directory from the api pool.
func (c *Client) FetchStations(ctx context.Context) (domain.StationDirectory, error) {
	var doc domain.StationDocument
	if err := c.FetchJSON(ctx, PoolAPI, StationPath, c.stationTimeout, &doc); err != nil {
		return nil, err
	}
	if doc.Skipped > 0 {
		c.metrics.MalformedEntries.WithLabelValues("stations").Add(float64(doc.Skipped))
		c.logger.Warn("skipped malformed station entries", "count", doc.Skipped)
	}
	return doc.Stations, nil
}

// FetchRealtime downloads the current station readings from the lb pool.
func (c *Client) FetchRealtime(ctx context.Context) (*domain.RealtimePayload, error) {
	var payload domain.RealtimePayload
	if err := c.FetchJSON(ctx, PoolLB, RealtimePath, c.realtimeTimeout, &payload); err != nil {
		return nil, err
	}
	if payload.Skipped > 0 {
		c.metrics.MalformedEntries.WithLabelValues("realtime").Add(float64(payload.Skipped))
		c.logger.Debug("skipped malformed readings", "count", payload.Skipped)
	}
	return &payload, nil
}

// FetchJSON issues a GET for path against a random host of pool and decodes
// the response body into out. The request is aborted once timeout elapses.
// All failures are returned as *domain.FetchError.
func (c *Client) FetchJSON(ctx context.Context, pool Pool, path string, timeout time.Duration, out any) error {
	host, err := c.host(pool)
	if err != nil {
		return err
	}
	fullURL := fmt.Sprintf("%s://%s%s", c.scheme, host, path)

	start := time.Now()
	err = c.do(ctx, fullURL, timeout, out)
	c.metrics.FetchDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.FetchRequests.WithLabelValues(path, domain.ErrorKind(err)).Inc()
		c.markOffline(err)
		return err
	}
	c.metrics.FetchRequests.WithLabelValues(path, "success").Inc()
	c.markOnline()
	return nil
}

// Online reports the current connectivity state.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.offline
}

func (c *Client) do(ctx context.Context, fullURL string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return &domain.FetchError{Kind: domain.ErrNetwork, URL: fullURL, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.FetchError{Kind: classify(ctx, err), URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &domain.FetchError{Kind: domain.ErrHTTP, URL: fullURL, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return &domain.FetchError{Kind: classify(ctx, err), URL: fullURL, Err: err}
		}
		return &domain.FetchError{Kind: domain.ErrMalformed, URL: fullURL, Err: err}
	}
	return nil
}

func (c *Client) host(pool Pool) (string, error) {
	hosts := c.pools[pool]
	if len(hosts) == 0 {
		return "", &domain.FetchError{Kind: domain.ErrNetwork, URL: string(pool), Err: errors.New("empty endpoint pool")}
	}
	return hosts[c.pick(len(hosts))], nil
}

// markOffline and markOnline log only on state transitions.
func (c *Client) markOffline(err error) {
	c.mu.Lock()
	wasOnline := !c.offline
	c.offline = true
	c.mu.Unlock()

	if wasOnline {
		c.metrics.UpstreamOnline.Set(0)
		c.metrics.ConnectivityTransitions.WithLabelValues("offline").Inc()
		c.logger.Warn("upstream offline", "error", err, "kind", domain.ErrorKind(err))
	}
}

func (c *Client) markOnline() {
	c.mu.Lock()
	wasOffline := c.offline
	c.offline = false
	c.mu.Unlock()

	if wasOffline {
		c.metrics.UpstreamOnline.Set(1)
		c.metrics.ConnectivityTransitions.WithLabelValues("online").Inc()
		c.logger.Info("upstream recovered")
	}
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrTimeout
	}
	return domain.ErrNetwork
}
