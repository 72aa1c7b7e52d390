//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/quake-relay/internal/adapter/kafka"
	"github.com/couchcryptid/quake-relay/internal/config"
	"github.com/couchcryptid/quake-relay/internal/domain"
	"github.com/couchcryptid/quake-relay/internal/observability"
	"github.com/couchcryptid/quake-relay/internal/pipeline"
	"github.com/couchcryptid/quake-relay/internal/state"
)

const testTopic = "test-area-changes"

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	kc, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := kc.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// TestWriterPublishesChanges reconciles a payload into a store and publishes
// the resulting changes through the Kafka writer.
func TestWriterPublishesChanges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaTopic: testTopic}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	writer := kafka.NewWriter(cfg, logger, metrics)

	store := state.NewStore([]domain.MonitoredArea{{Code: 106, Name: "Da'an"}})
	payload := &domain.RealtimePayload{Stations: map[string]domain.RawReading{
		"S1": {StationID: "S1", PGA: 5.0, Intensity: 1.2, Level: 1},
	}}
	stations := domain.StationDirectory{
		"S1": {ID: "S1", Info: []domain.StationInfo{{Code: 106, Lat: 25.0, Lon: 121.5}}},
	}
	changes, err := pipeline.Reconcile(store, payload, stations, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, changes, 1)

	require.NoError(t, writer.PublishChanges(ctx, changes))
	require.NoError(t, writer.Close())

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		StartOffset: kafkago.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	defer reader.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "read from change topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "106", string(msg.Key))
	assert.Equal(t, "106", headers["area_code"])
	assert.Equal(t, "S1", headers["station_id"])
	assert.Equal(t, "2024-06-10T08:00:00Z", headers["updated_at"])
	assert.NotEmpty(t, headers["geohash"])

	var got domain.AreaChange
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, 106, got.Status.Code)
	assert.Equal(t, 5.0, got.Status.PGA)
	assert.Equal(t, 1, got.Status.Intensity)
	assert.Equal(t, "S1", got.StationID)
}
