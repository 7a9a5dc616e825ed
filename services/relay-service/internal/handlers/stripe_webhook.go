package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/event"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook converts completed checkouts into payment_completed domain
// events (no JWT auth; signature verification is the auth). Checkout
// sessions created by the platform carry the customer's user id in metadata.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	// Body size is capped by the WithBodyLimit middleware.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if evt.Type != "checkout.session.completed" {
		h.logger.Info("stripe event ignored", "provider_event_id", evt.ID, "event_type", string(evt.Type))
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		h.logger.Error("invalid checkout session payload", "provider_event_id", evt.ID, "err", err)
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	userID := session.Metadata["user_id"]
	if userID == "" {
		h.logger.Warn("checkout session missing user_id metadata", "provider_event_id", evt.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	h.ingestor.Ingest(r.Context(), event.Event{
		Kind:         event.KindPaymentCompleted,
		TargetUserID: userID,
		Payload: map[string]string{
			"consultation_id": session.Metadata["consultation_id"],
			"checkout_id":     session.ID,
		},
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}
