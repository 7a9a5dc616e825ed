package receipts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/consultrelay/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func testProducer() (*Producer, *captureWriter) {
	w := &captureWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Producer{logger: logger, writer: w}, w
}

func TestPublishKeysByUserAndEncodesOutcome(t *testing.T) {
	p, w := testProducer()

	p.Publish(context.Background(), Receipt{
		UserID:    "u1",
		EventKind: "status_changed",
		Channel:   "push",
		Target:    "fcm",
		Status:    "sent",
	})

	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u1" {
		t.Fatalf("message not keyed by user id: %q", msg.Key)
	}
	if got := kafkax.HeaderValue(msg.Headers, "event_type"); got != "delivery.sent" {
		t.Fatalf("wrong event_type header: %q", got)
	}

	var rc Receipt
	if err := json.Unmarshal(msg.Value, &rc); err != nil {
		t.Fatalf("receipt does not round-trip: %v", err)
	}
	if rc.EventKind != "status_changed" || rc.Channel != "push" {
		t.Fatalf("receipt fields lost: %+v", rc)
	}
	if rc.At.IsZero() {
		t.Fatal("publish must stamp the receipt time")
	}
}

func TestPublishCarriesTraceContextHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	p, w := testProducer()
	p.Publish(ctx, Receipt{UserID: "u1", Status: "sent"})

	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	traceparent := kafkax.HeaderValue(w.msgs[0].Headers, "traceparent")
	if traceparent == "" {
		t.Fatal("traceparent header missing from published receipt")
	}

	extracted := kafkax.ExtractTraceContext(context.Background(), w.msgs[0])
	if got := trace.SpanContextFromContext(extracted).TraceID(); got != sc.TraceID() {
		t.Fatalf("trace id did not survive the kafka headers: %s", got)
	}
}
