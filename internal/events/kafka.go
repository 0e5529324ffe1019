// Package events publishes completed verdicts to Kafka for downstream
// consumers (dashboards, SOAR pipelines, long-term analytics).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/aegis/internal/triage"
)

// KafkaConfig configures the verdict event publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink writes one message per verdict, keyed by alert ID so all
// verdicts for an alert land in the same partition, in order.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates the verdict event publisher.
func NewKafkaSink(cfg KafkaConfig, logger log.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Warn(context.Background(), fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}
	return &KafkaSink{writer: writer}
}

// Name identifies this sink in logs and metrics.
func (s *KafkaSink) Name() string { return "kafka" }

// Deliver publishes one verdict event.
func (s *KafkaSink) Deliver(ctx context.Context, v *triage.Verdict) error {
	msg, err := message(v)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, msg)
}

func message(v *triage.Verdict) (kafka.Message, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal verdict: %w", err)
	}
	return kafka.Message{
		Key:   []byte(v.AlertID),
		Value: value,
		Time:  v.CompletedAt,
	}, nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error { return s.writer.Close() }
