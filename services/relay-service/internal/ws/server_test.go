package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/md-rashed-zaman/consultrelay/libs/auth"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/registry"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(logger, reg, Config{JWTSecret: testSecret})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, reg
}

func signToken(t *testing.T, sub string) string {
	t.Helper()
	token, err := auth.SignHS256(auth.Claims{
		Sub:  sub,
		Role: "customer",
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	return token
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandshakeRejectsUnauthenticated(t *testing.T) {
	ts, reg := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err == nil {
		t.Fatal("expected handshake to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %+v", resp)
	}
	if reg.Size() != 0 {
		t.Fatalf("unauthenticated connection must not be registered, size %d", reg.Size())
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	ts, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?token=not-a-jwt", nil)
	if err == nil {
		t.Fatal("expected handshake to fail with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %+v", resp)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	ts, reg := newTestServer(t)
	token := signToken(t, "u1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return reg.Size() == 1 })

	conns := reg.ConnectionsFor("u1")
	if len(conns) != 1 {
		t.Fatalf("expected one registered connection for u1, got %d", len(conns))
	}

	payload := []byte(`{"type":"notification","title":"t","body":"b"}`)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conns[0].Send(ctx, payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: got %q", got)
	}

	// Closing the client must trigger deregistration, leaving no dangling
	// registry entries.
	_ = conn.Close()
	waitFor(t, func() bool { return reg.Size() == 0 })
	if len(reg.ConnectionsFor("u1")) != 0 {
		t.Fatal("registry still holds connections after close")
	}
}

func TestTokenViaAuthorizationHeader(t *testing.T) {
	ts, reg := newTestServer(t)
	token := signToken(t, "u2")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return len(reg.ConnectionsFor("u2")) == 1 })
}
