// Package eventbus is a best-effort telemetry mirror: it republishes
// StateFrames and audit events onto a Kafka topic for downstream consumers
// (a digital twin, analytics). It is never on the real-time path — writes
// are fire-and-forget and a slow or unreachable broker never blocks the
// iron thread or the bridge. Grounded on the teacher's kafkaio.IO, which
// already treats "keep only the latest, drop the rest" as a first-class
// drain strategy; here the same preference for freshness over completeness
// governs what gets dropped when the writer falls behind.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Mirror publishes JSON-encoded messages to a single Kafka topic.
type Mirror struct {
	writer *kafka.Writer
	lg     *slog.Logger
}

// NewMirror constructs a mirror. brokers lists the broker addresses; an
// empty list means the mirror is disabled and NewMirror returns nil.
func NewMirror(brokers []string, topic string, lg *slog.Logger) *Mirror {
	if len(brokers) == 0 {
		return nil
	}
	return &Mirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Async:        true, // fire-and-forget: never blocks the caller
			BatchTimeout: 0,
		},
		lg: lg,
	}
}

// Publish best-effort mirrors v as a JSON message keyed by key. Errors are
// logged, never returned: callers on the hot path must not be made to care
// whether the mirror is up.
func (m *Mirror) Publish(ctx context.Context, key string, v any) {
	if m == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	err = m.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
	if err != nil && m.lg != nil {
		m.lg.Debug("eventbus: publish failed (best effort)", "error", err)
	}
}

// Close flushes and closes the underlying writer.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.writer.Close()
}
