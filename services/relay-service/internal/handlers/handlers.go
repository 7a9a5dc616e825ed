package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/consultrelay/libs/auth"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/ingest"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/tokens"
)

type Handler struct {
	logger                 *slog.Logger
	ingestor               *ingest.Ingestor
	tokens                 tokens.Provider
	jwtSecret              string
	internalAPIKeyHash     string
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

type Config struct {
	JWTSecret string
	// InternalAPIKeyHash is the bcrypt hash of the key bridges present on
	// the internal event-injection endpoint.
	InternalAPIKeyHash            string
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
}

func New(logger *slog.Logger, ingestor *ingest.Ingestor, tokenStore tokens.Provider, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		logger:                 logger,
		ingestor:               ingestor,
		tokens:                 tokenStore,
		jwtSecret:              cfg.JWTSecret,
		internalAPIKeyHash:     strings.TrimSpace(cfg.InternalAPIKeyHash),
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
	}
}

func (h *Handler) claimsFromRequest(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, auth.ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	claims, err := auth.ParseAndVerifyHS256(token, h.jwtSecret)
	if err != nil {
		return nil, err
	}
	if claims.Sub == "" {
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
