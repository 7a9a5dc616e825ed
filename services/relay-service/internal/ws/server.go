package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/md-rashed-zaman/consultrelay/libs/auth"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/registry"
)

type Config struct {
	// JWTSecret verifies HS256 tokens minted by the platform's auth service.
	JWTSecret string
	// JWKS, when set, enables RS256 verification for tokens carrying a kid.
	JWKS *auth.JWKSClient
}

// Server upgrades authenticated HTTP requests to WebSocket connections and
// registers them for live delivery. Unauthenticated requests are rejected
// before the upgrade.
type Server struct {
	logger   *slog.Logger
	registry *registry.Registry
	cfg      Config
	upgrader websocket.Upgrader
}

func NewServer(logger *slog.Logger, reg *registry.Registry, cfg Config) *Server {
	return &Server{
		logger:   logger,
		registry: reg,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Mobile clients do not send an Origin header; browser
			// origins are enforced at the gateway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "err", err)
		return
	}

	client := newClient(conn, claims.Sub)
	s.registry.Register(claims.Sub, client)
	s.logger.Info("connection opened", "user_id", claims.Sub, "connection_id", client.ID())

	go client.writePump()
	go client.readPump(func() {
		s.registry.Deregister(client.ID())
		s.logger.Info("connection closed", "user_id", claims.Sub, "connection_id", client.ID())
	})
}

func (s *Server) authenticate(r *http.Request) (*auth.Claims, error) {
	token := bearerToken(r)
	if token == "" {
		// The browser WebSocket API cannot set headers, so the token may
		// arrive as a query parameter instead.
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, auth.ErrInvalidToken
	}

	if s.cfg.JWKS != nil {
		header, err := auth.ParseHeader(token)
		if err == nil && header.Alg == "RS256" && header.Kid != "" {
			key, err := s.cfg.JWKS.Get(header.Kid)
			if err != nil {
				return nil, auth.ErrInvalidToken
			}
			return auth.VerifyRS256(token, key)
		}
	}

	claims, err := auth.ParseAndVerifyHS256(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if claims.Sub == "" {
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
