package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultFCMEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMSender sends notifications through the FCM legacy HTTP API using a
// server key. Invalid-token signals surface as DeliveryError{ErrInvalidToken}
// so the dispatcher can invalidate the cached token.
type FCMSender struct {
	endpoint  string
	serverKey string
	http      *http.Client
}

func NewFCMSender(serverKey string, endpoint string) *FCMSender {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = defaultFCMEndpoint
	}
	return &FCMSender{
		endpoint:  endpoint,
		serverKey: strings.TrimSpace(serverKey),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *FCMSender) ProviderID() string {
	return "fcm"
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmRequest struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmResult struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

type fcmResponse struct {
	Success int         `json:"success"`
	Failure int         `json:"failure"`
	Results []fcmResult `json:"results"`
}

func (s *FCMSender) Send(ctx context.Context, token string, title string, body string, data map[string]string) (string, error) {
	if s.serverKey == "" {
		return "", &DeliveryError{Kind: ErrUnreachable, Reason: "fcm server key not configured"}
	}

	raw, err := json.Marshal(fcmRequest{
		To:           token,
		Notification: fcmNotification{Title: title, Body: body},
		Data:         data,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &DeliveryError{Kind: ErrTimeout, Reason: "fcm request timed out"}
		}
		return "", &DeliveryError{Kind: ErrUnreachable, Reason: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to the per-result error below
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &DeliveryError{Kind: ErrThrottled, Reason: "fcm rate limit"}
	case resp.StatusCode >= 500:
		return "", &DeliveryError{Kind: ErrUnreachable, Reason: "fcm returned " + resp.Status}
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusNotFound:
		return "", &DeliveryError{Kind: ErrInvalidToken, Reason: "fcm rejected token"}
	default:
		return "", &DeliveryError{Kind: ErrUnreachable, Reason: "fcm returned " + resp.Status}
	}

	var parsed fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &DeliveryError{Kind: ErrUnreachable, Reason: "invalid fcm response"}
	}
	if len(parsed.Results) == 0 {
		return "", &DeliveryError{Kind: ErrUnreachable, Reason: "empty fcm response"}
	}

	result := parsed.Results[0]
	switch result.Error {
	case "":
		return result.MessageID, nil
	case "NotRegistered", "InvalidRegistration", "MissingRegistration":
		return "", &DeliveryError{Kind: ErrInvalidToken, Reason: result.Error}
	case "DeviceMessageRateExceeded", "TopicsMessageRateExceeded":
		return "", &DeliveryError{Kind: ErrThrottled, Reason: result.Error}
	default:
		return "", &DeliveryError{Kind: ErrUnreachable, Reason: result.Error}
	}
}
