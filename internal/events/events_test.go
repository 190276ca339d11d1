package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/accountsvc/apiserver/config"
)

type captureBackend struct {
	channel string
	data    []byte
	attrs   map[string]string
	closed  bool
}

func (c *captureBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	c.channel = channel
	c.data = data
	c.attrs = attrs
	return "msg-1", nil
}

func (c *captureBackend) Close() error {
	c.closed = true
	return nil
}

func TestPublisherEmitsTypedEvents(t *testing.T) {
	t.Parallel()

	backend := &captureBackend{}
	publisher := &Publisher{backend: backend, channel: "user-events"}

	err := publisher.Publish(context.Background(), UserEvent{
		Type:     TypeUserRegistered,
		UserID:   7,
		Username: "alice",
	})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	if backend.channel != "user-events" {
		t.Fatalf("channel: got %q", backend.channel)
	}
	if backend.attrs["type"] != TypeUserRegistered {
		t.Fatalf("type attribute: got %v", backend.attrs)
	}

	var event UserEvent
	if err := json.Unmarshal(backend.data, &event); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if event.UserID != 7 || event.Username != "alice" {
		t.Fatalf("payload: %+v", event)
	}
	if event.At.IsZero() || event.At.After(time.Now()) {
		t.Fatalf("timestamp not stamped: %v", event.At)
	}
}

func TestNilPublisherIsNoOp(t *testing.T) {
	t.Parallel()

	var publisher *Publisher
	if err := publisher.Publish(context.Background(), UserEvent{Type: TypeUserDeleted}); err != nil {
		t.Fatalf("nil publisher Publish: %v", err)
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("nil publisher Close: %v", err)
	}
}

func TestNewPublisherBackendSelection(t *testing.T) {
	t.Parallel()

	publisher, err := NewPublisher(context.Background(), config.EventsConfig{Backend: "none"})
	if err != nil || publisher != nil {
		t.Fatalf("backend none: got %v, %v", publisher, err)
	}

	if _, err := NewPublisher(context.Background(), config.EventsConfig{Backend: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}

	// A rabbitmq backend without a URL fails before dialing.
	if _, err := NewPublisher(context.Background(), config.EventsConfig{Backend: "rabbitmq", Channel: "user-events"}); err == nil {
		t.Fatalf("expected error for missing rabbitmq url")
	}
}
