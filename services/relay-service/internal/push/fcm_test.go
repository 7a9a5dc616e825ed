package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fcmTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "key=test-key" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func deliveryErrorKind(t *testing.T, err error) ErrorKind {
	t.Helper()
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %T: %v", err, err)
	}
	return de.Kind
}

func TestFCMSendSuccess(t *testing.T) {
	ts := fcmTestServer(t, http.StatusOK, `{"success":1,"failure":0,"results":[{"message_id":"m1"}]}`)
	s := NewFCMSender("test-key", ts.URL)

	id, err := s.Send(context.Background(), "device-token", "title", "body", map[string]string{"kind": "status_changed"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if id != "m1" {
		t.Fatalf("expected message id m1, got %q", id)
	}
}

func TestFCMSendInvalidToken(t *testing.T) {
	ts := fcmTestServer(t, http.StatusOK, `{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`)
	s := NewFCMSender("test-key", ts.URL)

	_, err := s.Send(context.Background(), "stale-token", "title", "body", nil)
	if kind := deliveryErrorKind(t, err); kind != ErrInvalidToken {
		t.Fatalf("expected invalid_token, got %s", kind)
	}
}

func TestFCMSendThrottled(t *testing.T) {
	ts := fcmTestServer(t, http.StatusTooManyRequests, "")
	s := NewFCMSender("test-key", ts.URL)

	_, err := s.Send(context.Background(), "device-token", "title", "body", nil)
	if kind := deliveryErrorKind(t, err); kind != ErrThrottled {
		t.Fatalf("expected throttled, got %s", kind)
	}
}

func TestFCMSendServerError(t *testing.T) {
	ts := fcmTestServer(t, http.StatusInternalServerError, "")
	s := NewFCMSender("test-key", ts.URL)

	_, err := s.Send(context.Background(), "device-token", "title", "body", nil)
	if kind := deliveryErrorKind(t, err); kind != ErrUnreachable {
		t.Fatalf("expected unreachable, got %s", kind)
	}
}

func TestFCMSendMissingServerKey(t *testing.T) {
	s := NewFCMSender("", "")
	_, err := s.Send(context.Background(), "device-token", "title", "body", nil)
	if kind := deliveryErrorKind(t, err); kind != ErrUnreachable {
		t.Fatalf("expected unreachable for missing server key, got %s", kind)
	}
}
