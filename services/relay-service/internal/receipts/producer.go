package receipts

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/consultrelay/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Receipt records the outcome of one delivery attempt. Published for the
// analytics pipeline; the relay itself never reads these back.
type Receipt struct {
	UserID    string    `json:"user_id"`
	EventKind string    `json:"event_kind"`
	Channel   string    `json:"channel"`
	Target    string    `json:"target"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes delivery receipts to Kafka, keyed by user id so a
// user's receipts stay ordered within a partition.
type Producer struct {
	logger *slog.Logger
	writer messageWriter
}

func NewProducer(logger *slog.Logger, brokers string, topic string) *Producer {
	return &Producer{
		logger: logger,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(kafkax.SplitBrokers(brokers)...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish is best-effort: a failed write is logged and dropped, never
// surfaced to the dispatch path.
func (p *Producer) Publish(ctx context.Context, rc Receipt) {
	if rc.At.IsZero() {
		rc.At = time.Now().UTC()
	}
	value, err := json.Marshal(rc)
	if err != nil {
		p.logger.Error("failed to encode delivery receipt", "err", err)
		return
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte("delivery." + rc.Status)},
	}
	msg := kafka.Message{
		Key:     []byte(rc.UserID),
		Value:   value,
		Headers: kafkax.InjectTraceHeaders(ctx, headers),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish delivery receipt", "err", err, "user_id", rc.UserID)
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
