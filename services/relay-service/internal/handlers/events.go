package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/event"
	"golang.org/x/crypto/bcrypt"
)

// InjectEvent accepts a domain event over HTTP, for bridges that cannot
// produce to Kafka (the Firestore change-listener among them). Guarded by a
// bcrypt-hashed API key; not exposed through the gateway.
func (h *Handler) InjectEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.internalAPIKeyHash == "" {
		http.Error(w, "event injection not configured", http.StatusServiceUnavailable)
		return
	}

	key := strings.TrimSpace(r.Header.Get("X-Internal-Api-Key"))
	if key == "" || bcrypt.CompareHashAndPassword([]byte(h.internalAPIKeyHash), []byte(key)) != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Body size is capped by the WithBodyLimit middleware.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var ev event.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	// Unknown kinds and missing targets are dropped inside Ingest with a
	// log line; the bridge still gets a 202 because the event was consumed.
	h.ingestor.Ingest(r.Context(), ev)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}
