package event

import (
	"errors"
	"fmt"
)

var ErrMalformedEvent = errors.New("malformed event")

// Kind enumerates the domain event kinds the relay understands.
// Unknown kinds are dropped at ingest, never treated as fatal, so
// producers can roll out new kinds ahead of the relay.
type Kind string

const (
	KindBookingCreated   Kind = "booking_created"
	KindBookingCancelled Kind = "booking_cancelled"
	KindStatusChanged    Kind = "status_changed"
	KindPaymentCompleted Kind = "payment_completed"
	KindMessageReceived  Kind = "message_received"
)

func (k Kind) Known() bool {
	switch k {
	case KindBookingCreated, KindBookingCancelled, KindStatusChanged, KindPaymentCompleted, KindMessageReceived:
		return true
	}
	return false
}

// Event is an immutable record of a business-state transition that may
// warrant notifying a user. Produced by the platform's change stream,
// consumed once; not persisted by the relay.
type Event struct {
	Kind         Kind              `json:"kind"`
	TargetUserID string            `json:"target_user_id"`
	Payload      map[string]string `json:"payload,omitempty"`
}

// Message is the normalized outbound form of an Event, ready for either
// live WebSocket delivery or push delivery. Payload fields are copied
// through verbatim for client-side deep-linking.
type Message struct {
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data,omitempty"`
	TargetUserID string            `json:"-"`
}

// Normalize maps an Event onto exactly one Message. It is a pure function
// of its input: the same event always yields the same message.
func Normalize(ev Event) (Message, error) {
	if ev.TargetUserID == "" {
		return Message{}, fmt.Errorf("%w: missing target user id", ErrMalformedEvent)
	}
	if !ev.Kind.Known() {
		return Message{}, fmt.Errorf("%w: unrecognized kind %q", ErrMalformedEvent, ev.Kind)
	}

	msg := Message{
		Data:         copyPayload(ev.Payload),
		TargetUserID: ev.TargetUserID,
	}

	switch ev.Kind {
	case KindBookingCreated:
		msg.Title = "New consultation booked"
		msg.Body = "A new consultation has been booked."
	case KindBookingCancelled:
		msg.Title = "Consultation cancelled"
		msg.Body = "A consultation has been cancelled."
	case KindStatusChanged:
		msg.Title = "Consultation update"
		if status := ev.Payload["status"]; status != "" {
			msg.Body = fmt.Sprintf("Your consultation is now %s.", status)
		} else {
			msg.Body = "Your consultation status has changed."
		}
	case KindPaymentCompleted:
		msg.Title = "Payment received"
		msg.Body = "Your payment has been completed."
	case KindMessageReceived:
		msg.Title = "New message"
		if from := ev.Payload["sender_name"]; from != "" {
			msg.Body = fmt.Sprintf("New message from %s.", from)
		} else {
			msg.Body = "You have a new message."
		}
	}

	if msg.Data == nil {
		msg.Data = map[string]string{}
	}
	msg.Data["kind"] = string(ev.Kind)
	return msg, nil
}

func copyPayload(payload map[string]string) map[string]string {
	if payload == nil {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
