package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/event"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/push"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/receipts"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/registry"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/storage"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/tokens"
)

// Dispatcher routes a normalized message to the target user's live
// connections, or hands it to the push bridge when none are open. A message
// takes exactly one of the two paths, never both.
type Dispatcher struct {
	logger      *slog.Logger
	registry    *registry.Registry
	tokens      tokens.Provider
	push        push.Sender
	deliveries  *storage.Repository
	receipts    *receipts.Producer
	sendTimeout time.Duration
}

type Config struct {
	SendTimeout time.Duration
	// Receipts, when set, publishes every delivery outcome to Kafka.
	Receipts *receipts.Producer
}

// New builds a Dispatcher. deliveries may be nil, in which case outcomes are
// only logged.
func New(logger *slog.Logger, reg *registry.Registry, tokenProvider tokens.Provider, sender push.Sender, deliveries *storage.Repository, cfg Config) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &Dispatcher{
		logger:      logger,
		registry:    reg,
		tokens:      tokenProvider,
		push:        sender,
		deliveries:  deliveries,
		receipts:    cfg.Receipts,
		sendTimeout: cfg.SendTimeout,
	}
}

// Dispatch never returns an error: every failure is scoped to the single
// delivery attempt that caused it.
func (d *Dispatcher) Dispatch(ctx context.Context, msg event.Message) {
	conns := d.registry.ConnectionsFor(msg.TargetUserID)
	if len(conns) > 0 {
		d.deliverLive(ctx, msg, conns)
		return
	}
	d.deliverPush(ctx, msg)
}

type wireFrame struct {
	Type  string            `json:"type"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

func (d *Dispatcher) deliverLive(ctx context.Context, msg event.Message, conns []registry.Conn) {
	payload, err := json.Marshal(wireFrame{
		Type:  "notification",
		Title: msg.Title,
		Body:  msg.Body,
		Data:  msg.Data,
	})
	if err != nil {
		d.logger.Error("failed to encode notification frame", "err", err)
		return
	}

	for _, conn := range conns {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := conn.Send(sendCtx, payload)
		cancel()

		if err != nil {
			// A failed write means the connection is dead; prune it
			// instead of retrying.
			d.logger.Warn("live delivery failed, pruning connection",
				"user_id", msg.TargetUserID,
				"connection_id", conn.ID(),
				"err", err,
			)
			d.registry.Deregister(conn.ID())
			_ = conn.Close()
			d.record(ctx, msg, "ws", conn.ID(), "failed", err.Error())
			continue
		}
		d.record(ctx, msg, "ws", conn.ID(), "sent", "")
	}
}

func (d *Dispatcher) deliverPush(ctx context.Context, msg event.Message) {
	lookupCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	token, err := d.tokens.TokenFor(lookupCtx, msg.TargetUserID)
	cancel()
	if err != nil {
		d.logger.Error("push token lookup failed", "user_id", msg.TargetUserID, "err", err)
		d.record(ctx, msg, "push", d.push.ProviderID(), "failed", "token lookup: "+err.Error())
		return
	}
	if token == "" {
		// The user has no open connection and no registered device:
		// silent absence, not an error.
		d.logger.Info("no push token registered, dropping", "user_id", msg.TargetUserID)
		d.record(ctx, msg, "push", d.push.ProviderID(), "skipped", "no push token")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	messageID, err := d.push.Send(sendCtx, token, msg.Title, msg.Body, msg.Data)
	cancel()

	if err != nil {
		var de *push.DeliveryError
		if errors.As(err, &de) && de.Kind == push.ErrInvalidToken {
			if invErr := d.tokens.Invalidate(ctx, msg.TargetUserID); invErr != nil {
				d.logger.Error("token invalidation failed", "user_id", msg.TargetUserID, "err", invErr)
			}
		}
		d.logger.Warn("push delivery failed", "user_id", msg.TargetUserID, "err", err)
		d.record(ctx, msg, "push", d.push.ProviderID(), "failed", err.Error())
		return
	}

	d.logger.Info("push delivered", "user_id", msg.TargetUserID, "message_id", messageID)
	d.record(ctx, msg, "push", d.push.ProviderID(), "sent", "")
}

func (d *Dispatcher) record(ctx context.Context, msg event.Message, channel string, target string, status string, detail string) {
	if d.receipts != nil {
		d.receipts.Publish(ctx, receipts.Receipt{
			UserID:    msg.TargetUserID,
			EventKind: msg.Data["kind"],
			Channel:   channel,
			Target:    target,
			Status:    status,
			Detail:    detail,
		})
	}
	if d.deliveries == nil {
		return
	}
	if err := d.deliveries.Insert(ctx, storage.Delivery{
		UserID:    msg.TargetUserID,
		EventKind: msg.Data["kind"],
		Channel:   channel,
		Target:    target,
		Status:    status,
		Detail:    detail,
	}); err != nil {
		d.logger.Error("failed to record delivery", "err", err)
	}
}
