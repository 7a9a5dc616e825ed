package ingest

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/event"
)

// Dispatcher is the downstream the ingestor forwards normalized messages to.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg event.Message)
}

// Ingestor validates incoming domain events and normalizes each one into
// exactly one outbound message. Malformed events are logged and dropped,
// never propagated.
type Ingestor struct {
	logger     *slog.Logger
	dispatcher Dispatcher
}

func New(logger *slog.Logger, dispatcher Dispatcher) *Ingestor {
	return &Ingestor{logger: logger, dispatcher: dispatcher}
}

func (i *Ingestor) Ingest(ctx context.Context, ev event.Event) {
	msg, err := event.Normalize(ev)
	if err != nil {
		i.logger.Warn("event dropped",
			"kind", string(ev.Kind),
			"user_id", ev.TargetUserID,
			"err", err,
		)
		return
	}
	i.dispatcher.Dispatch(ctx, msg)
}
