package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/quake-relay/internal/domain"
)

const (
	defaultAPIServers     = "api-1.exptech.dev,api-2.exptech.dev"
	defaultLBServers      = "lb-1.exptech.dev,lb-2.exptech.dev,lb-3.exptech.dev,lb-4.exptech.dev"
	defaultMonitoredAreas = "100:Zhongzheng,103:Datong,104:Zhongshan,105:Songshan,106:Da'an"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	WSAddr          string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Polling configuration.
	PollInterval    time.Duration
	RealtimeTimeout time.Duration
	StationTimeout  time.Duration
	StationTTL      time.Duration
	HeartbeatTicks  int

	// Upstream endpoint pools.
	UpstreamScheme string
	APIServers     []string
	LBServers      []string

	MonitoredAreas []domain.MonitoredArea

	// Kafka change feed. Disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string
}

// KafkaEnabled reports whether area changes should be published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables (and an optional .env
// file), applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore missing file

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	pollInterval, err := parseDuration("POLL_INTERVAL", "1s")
	if err != nil {
		return nil, err
	}
	realtimeTimeout, err := parseDuration("RTS_TIMEOUT", "2s")
	if err != nil {
		return nil, err
	}
	stationTimeout, err := parseDuration("STATION_TIMEOUT", "3500ms")
	if err != nil {
		return nil, err
	}
	stationTTL, err := parseDuration("STATION_TTL", "5m")
	if err != nil {
		return nil, err
	}

	heartbeat, err := strconv.Atoi(sharedcfg.EnvOrDefault("HEARTBEAT_TICKS", "60"))
	if err != nil || heartbeat <= 0 {
		return nil, errors.New("invalid HEARTBEAT_TICKS")
	}

	areas, err := ParseMonitoredAreas(sharedcfg.EnvOrDefault("MONITORED_AREAS", defaultMonitoredAreas))
	if err != nil {
		return nil, err
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); strings.TrimSpace(v) != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		WSAddr:          sharedcfg.EnvOrDefault("WS_ADDR", ":8000"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		PollInterval:    pollInterval,
		RealtimeTimeout: realtimeTimeout,
		StationTimeout:  stationTimeout,
		StationTTL:      stationTTL,
		HeartbeatTicks:  heartbeat,

		UpstreamScheme: sharedcfg.EnvOrDefault("UPSTREAM_SCHEME", "https"),
		APIServers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("API_SERVERS", defaultAPIServers)),
		LBServers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("LB_SERVERS", defaultLBServers)),

		MonitoredAreas: areas,

		KafkaBrokers: brokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "area-intensity-changes"),
	}

	if len(cfg.APIServers) == 0 {
		return nil, errors.New("API_SERVERS is required")
	}
	if len(cfg.LBServers) == 0 {
		return nil, errors.New("LB_SERVERS is required")
	}
	if cfg.UpstreamScheme != "http" && cfg.UpstreamScheme != "https" {
		return nil, errors.New("UPSTREAM_SCHEME must be http or https")
	}
	if cfg.KafkaEnabled() && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// ParseMonitoredAreas parses a comma-separated list of code:name pairs,
// e.g. "106:Da'an,100:Zhongzheng".
func ParseMonitoredAreas(s string) ([]domain.MonitoredArea, error) {
	var areas []domain.MonitoredArea
	seen := make(map[int]bool)
	for _, item := range sharedcfg.ParseBrokers(s) {
		codeStr, name, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("invalid MONITORED_AREAS entry %q: want code:name", item)
		}
		code, err := strconv.Atoi(strings.TrimSpace(codeStr))
		if err != nil {
			return nil, fmt.Errorf("invalid MONITORED_AREAS code %q", codeStr)
		}
		if seen[code] {
			return nil, fmt.Errorf("duplicate MONITORED_AREAS code %d", code)
		}
		seen[code] = true
		areas = append(areas, domain.MonitoredArea{Code: code, Name: strings.TrimSpace(name)})
	}
	if len(areas) == 0 {
		return nil, errors.New("MONITORED_AREAS is required")
	}
	return areas, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}
