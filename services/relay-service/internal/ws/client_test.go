package ws

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSendFailsOnceBufferIsFull(t *testing.T) {
	// No pumps running, so nothing drains the send channel.
	c := newClient(nil, "u1")

	for i := 0; i < sendBuffer; i++ {
		if err := c.Send(context.Background(), []byte("frame")); err != nil {
			t.Fatalf("send %d failed with room in the buffer: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, []byte("frame"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error on a full buffer, got %v", err)
	}
}

func TestSendFailsAfterDone(t *testing.T) {
	c := newClient(nil, "u1")
	c.once.Do(func() { close(c.done) })

	if err := c.Send(context.Background(), []byte("frame")); !errors.Is(err, errConnClosed) {
		t.Fatalf("expected closed-connection error, got %v", err)
	}
}
