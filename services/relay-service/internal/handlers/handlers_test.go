package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/consultrelay/libs/auth"
	"github.com/md-rashed-zaman/consultrelay/libs/httpx"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/event"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/ingest"
	"golang.org/x/crypto/bcrypt"
)

const (
	testJWTSecret     = "test-secret"
	testInternalKey   = "internal-key"
	testWebhookSecret = "whsec_test"
)

type fakeDispatcher struct {
	messages []event.Message
}

func (d *fakeDispatcher) Dispatch(_ context.Context, msg event.Message) {
	d.messages = append(d.messages, msg)
}

type fakeTokenStore struct {
	stored      map[string]string
	invalidated []string
}

func (s *fakeTokenStore) TokenFor(_ context.Context, userID string) (string, error) {
	return s.stored[userID], nil
}

func (s *fakeTokenStore) Set(_ context.Context, userID string, token string) error {
	if s.stored == nil {
		s.stored = map[string]string{}
	}
	s.stored[userID] = token
	return nil
}

func (s *fakeTokenStore) Invalidate(_ context.Context, userID string) error {
	s.invalidated = append(s.invalidated, userID)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeDispatcher, *fakeTokenStore) {
	t.Helper()
	keyHash, err := bcrypt.GenerateFromPassword([]byte(testInternalKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt hash failed: %v", err)
	}
	dispatcher := &fakeDispatcher{}
	store := &fakeTokenStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(logger, ingest.New(logger, dispatcher), store, Config{
		JWTSecret:           testJWTSecret,
		InternalAPIKeyHash:  string(keyHash),
		StripeWebhookSecret: testWebhookSecret,
	})
	return h, dispatcher, store
}

func signToken(t *testing.T, sub string) string {
	t.Helper()
	token, err := auth.SignHS256(auth.Claims{
		Sub:  sub,
		Role: "customer",
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}, testJWTSecret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	return token
}

func TestInjectEventRequiresAPIKey(t *testing.T) {
	h, dispatcher, _ := newTestHandler(t)

	body := `{"kind":"booking_created","target_user_id":"u1"}`
	req := httptest.NewRequest(http.MethodPost, "/internal/events", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.InjectEvent(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without api key, got %d", rw.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/events", strings.NewReader(body))
	req.Header.Set("X-Internal-Api-Key", "wrong-key")
	rw = httptest.NewRecorder()
	h.InjectEvent(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong api key, got %d", rw.Code)
	}
	if len(dispatcher.messages) != 0 {
		t.Fatalf("unauthorized request must not dispatch, got %d", len(dispatcher.messages))
	}
}

func TestInjectEventAcceptsValidEvent(t *testing.T) {
	h, dispatcher, _ := newTestHandler(t)

	body := `{"kind":"booking_created","target_user_id":"u1","payload":{"consultation_id":"c1"}}`
	req := httptest.NewRequest(http.MethodPost, "/internal/events", strings.NewReader(body))
	req.Header.Set("X-Internal-Api-Key", testInternalKey)
	rw := httptest.NewRecorder()
	h.InjectEvent(rw, req)

	if rw.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rw.Code, rw.Body.String())
	}
	if len(dispatcher.messages) != 1 {
		t.Fatalf("expected one dispatched message, got %d", len(dispatcher.messages))
	}
	if dispatcher.messages[0].TargetUserID != "u1" {
		t.Fatalf("wrong target user: %q", dispatcher.messages[0].TargetUserID)
	}
}

func TestInjectEventDropsUnknownKindSilently(t *testing.T) {
	h, dispatcher, _ := newTestHandler(t)

	body := `{"kind":"unknown_kind","target_user_id":"u3"}`
	req := httptest.NewRequest(http.MethodPost, "/internal/events", strings.NewReader(body))
	req.Header.Set("X-Internal-Api-Key", testInternalKey)
	rw := httptest.NewRecorder()
	h.InjectEvent(rw, req)

	// The event was consumed even though the relay dropped it.
	if rw.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rw.Code)
	}
	if len(dispatcher.messages) != 0 {
		t.Fatalf("unknown kind must not dispatch, got %d", len(dispatcher.messages))
	}
}

func TestInjectEventRejectsOversizedBody(t *testing.T) {
	h, dispatcher, _ := newTestHandler(t)
	limited := httpx.WithBodyLimit(1 << 10)(http.HandlerFunc(h.InjectEvent))

	body := `{"kind":"booking_created","target_user_id":"u1","payload":{"note":"` +
		strings.Repeat("x", 2<<10) + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/internal/events", strings.NewReader(body))
	req.Header.Set("X-Internal-Api-Key", testInternalKey)
	rw := httptest.NewRecorder()
	limited.ServeHTTP(rw, req)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rw.Code)
	}
	if len(dispatcher.messages) != 0 {
		t.Fatalf("oversized body must not dispatch, got %d", len(dispatcher.messages))
	}
}

func TestDeviceTokenRoundTrip(t *testing.T) {
	h, _, store := newTestHandler(t)
	token := signToken(t, "u1")

	req := httptest.NewRequest(http.MethodPost, "/v1/devices/token", strings.NewReader(`{"token":"fcm-device-token"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.DeviceToken(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rw.Code, rw.Body.String())
	}
	if store.stored["u1"] != "fcm-device-token" {
		t.Fatalf("token not stored: %+v", store.stored)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/devices/token", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw = httptest.NewRecorder()
	h.DeviceToken(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", rw.Code)
	}
	if len(store.invalidated) != 1 || store.invalidated[0] != "u1" {
		t.Fatalf("token not invalidated: %+v", store.invalidated)
	}
}

func TestDeviceTokenRequiresAuth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/devices/token", strings.NewReader(`{"token":"x"}`))
	rw := httptest.NewRecorder()
	h.DeviceToken(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rw.Code)
	}
}

func stripeSignature(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeWebhookEmitsPaymentCompleted(t *testing.T) {
	h, dispatcher, _ := newTestHandler(t)

	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": ` + fmt.Sprint(time.Now().Unix()) + `,
		"data": {"object": {"id": "cs_1", "metadata": {"user_id": "u1", "consultation_id": "c1"}}}
	}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(payload, testWebhookSecret, time.Now()))
	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if len(dispatcher.messages) != 1 {
		t.Fatalf("expected one dispatched message, got %d", len(dispatcher.messages))
	}
	msg := dispatcher.messages[0]
	if msg.TargetUserID != "u1" {
		t.Fatalf("wrong target user: %q", msg.TargetUserID)
	}
	if msg.Data["kind"] != string(event.KindPaymentCompleted) {
		t.Fatalf("wrong event kind: %q", msg.Data["kind"])
	}
	if msg.Data["consultation_id"] != "c1" {
		t.Fatalf("consultation id not carried through: %+v", msg.Data)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	h, dispatcher, _ := newTestHandler(t)

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(payload, "whsec_other", time.Now()))
	rw := httptest.NewRecorder()
	h.StripeWebhook(rw, req)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rw.Code)
	}
	if len(dispatcher.messages) != 0 {
		t.Fatalf("bad signature must not dispatch, got %d", len(dispatcher.messages))
	}
}
