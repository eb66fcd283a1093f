package mqtt

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// newDisconnectedClient returns a Client that was never connected.
// Validation paths can be exercised without a running broker.
func newDisconnectedClient() *Client {
	return &Client{
		subscriptions: make(map[string]subscription),
	}
}

func TestPublishValidation(t *testing.T) {
	c := newDisconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", payload: []byte("x"), qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "a/b", payload: []byte("x"), qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized payload", topic: "a/b", payload: bytes.Repeat([]byte{0}, maxPayloadSize+1), qos: 1, wantErr: ErrPublishFailed},
		{name: "not connected", topic: "a/b", payload: []byte("x"), qos: 1, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := newDisconnectedClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a/b", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("a/b", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() while disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() while disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled ctx) error = %v, want context.Canceled", err)
	}
}

func TestSubscriptionTracking(t *testing.T) {
	c := newDisconnectedClient()

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if c.HasSubscription("a/b") {
		t.Error("HasSubscription() = true for untracked topic")
	}
}

func TestCloseNilClient(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.Close(); err != nil {
		t.Errorf("Close() on never-connected client error = %v", err)
	}
}
