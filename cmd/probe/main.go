// Command probe runs a single fetch-and-reconcile cycle against the live
// ExpTech endpoints and prints the resulting area snapshot. It also compares
// each area's upstream intensity with the level derived locally from PGA,
// which is useful when checking the intensity scale against real data.
//
// Usage:
//
//	go run ./cmd/probe -areas "100:Zhongzheng,103:Datong" -timeout 10s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-relay/internal/adapter/exptech"
	"github.com/couchcryptid/quake-relay/internal/config"
	"github.com/couchcryptid/quake-relay/internal/domain"
	"github.com/couchcryptid/quake-relay/internal/observability"
	"github.com/couchcryptid/quake-relay/internal/pipeline"
	"github.com/couchcryptid/quake-relay/internal/state"
)

func main() {
	areas := flag.String("areas", "", "monitored areas as code:name pairs (defaults to MONITORED_AREAS)")
	timeout := flag.Duration("timeout", 10*time.Second, "overall deadline for both fetches")
	verbose := flag.Bool("v", false, "log client activity to stderr")
	flag.Parse()

	if code := run(*areas, *timeout, *verbose, os.Stdout); code != 0 {
		os.Exit(code)
	}
}

func run(areaSpec string, timeout time.Duration, verbose bool, out io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if areaSpec != "" {
		cfg.MonitoredAreas, err = config.ParseMonitoredAreas(areaSpec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "areas: %v\n", err)
			return 1
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	client := exptech.NewClient(cfg, logger, observability.NewMetricsForTesting())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stations, err := client.FetchStations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stations: %v (%s)\n", err, domain.ErrorKind(err))
		return 1
	}
	payload, err := client.FetchRealtime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "realtime: %v (%s)\n", err, domain.ErrorKind(err))
		return 1
	}

	store := state.NewStore(cfg.MonitoredAreas)
	changes, err := pipeline.Reconcile(store, payload, stations, clockwork.NewRealClock().Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile: %v\n", err)
		return 1
	}

	snapshot := store.Snapshot()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(domain.NewStatusMessage(snapshot)); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "stations: %d in directory, %d readings, %d skipped\n",
		len(stations), len(payload.Stations), payload.Skipped)
	fmt.Fprintf(os.Stderr, "areas: %d monitored, %d updated\n", store.Len(), len(changes))

	mismatches := 0
	for _, code := range store.Codes() {
		status := snapshot[code]
		if status.LastUpdate == nil {
			continue
		}
		local := domain.IntensityToLevel(domain.PGAToIntensity(status.PGA))
		if local != status.Intensity {
			mismatches++
			fmt.Fprintf(os.Stderr, "  area %d: upstream level %d, local level %d (pga %.3f)\n",
				code, status.Intensity, local, status.PGA)
		}
	}
	fmt.Fprintf(os.Stderr, "intensity cross-check: %d mismatches\n", mismatches)
	return 0
}
