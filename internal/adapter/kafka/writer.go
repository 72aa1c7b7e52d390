package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mmcloughlin/geohash"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-relay/internal/config"
	"github.com/couchcryptid/quake-relay/internal/domain"
	"github.com/couchcryptid/quake-relay/internal/observability"
)

// Writer publishes area change events to a Kafka topic.
// It implements pipeline.ChangePublisher.
type Writer struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates an async Kafka producer for the configured change topic.
// Writes never block the poll loop; delivery results are reported through
// metrics and logs.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &Writer{logger: logger, metrics: metrics}
	w.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   w.completed,
	}
	return w
}

// PublishChanges serializes and queues one message per change.
func (w *Writer) PublishChanges(ctx context.Context, changes []domain.AreaChange) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(changes))
	for i := range changes {
		msg, err := serializeToMessage(changes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

// Close flushes pending messages and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

func (w *Writer) completed(messages []kafkago.Message, err error) {
	if err != nil {
		w.metrics.PublishErrors.Add(float64(len(messages)))
		w.logger.Warn("kafka delivery failed", "error", err, "messages", len(messages))
		return
	}
	w.metrics.ChangesPublished.Add(float64(len(messages)))
}

// serializeToMessage marshals an AreaChange into a Kafka message keyed by
// area code, so changes for one area stay ordered within a partition.
func serializeToMessage(change domain.AreaChange) (kafkago.Message, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize area change: %w", err)
	}

	code := strconv.Itoa(change.Status.Code)
	updatedAt := ""
	if change.Status.LastUpdate != nil {
		updatedAt = change.Status.LastUpdate.UTC().Format(time.RFC3339)
	}
	return kafkago.Message{
		Key:   []byte(code),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "area_code", Value: []byte(code)},
			{Key: "station_id", Value: []byte(change.StationID)},
			{Key: "geohash", Value: []byte(geohash.Encode(change.Lat, change.Lon))},
			{Key: "updated_at", Value: []byte(updatedAt)},
		},
	}, nil
}
