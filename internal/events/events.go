package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/accountsvc/apiserver/config"
)

// Event types emitted over the lifecycle of a user account.
const (
	TypeUserRegistered    = "user.registered"
	TypeUserUpdated       = "user.updated"
	TypeUserDeleted       = "user.deleted"
	TypeUserStatusToggled = "user.status_toggled"
)

// UserEvent is the broker-agnostic lifecycle record. Payloads carry no
// credential material and no state snapshots.
type UserEvent struct {
	Type     string    `json:"type"`
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	At       time.Time `json:"at"`
}

// Backend publishes raw payloads to a named channel.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Publisher emits UserEvents on a fixed channel. A nil Publisher is a
// valid no-op.
type Publisher struct {
	backend Backend
	channel string
}

// NewPublisher constructs a Publisher from config, or nil when the
// backend is "none".
func NewPublisher(ctx context.Context, cfg config.EventsConfig) (*Publisher, error) {
	var backend Backend
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "rabbitmq":
		client, err := NewRabbitMQBackend(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		backend = client
	case "pubsub":
		client, err := NewPubSubBackend(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		backend = client
	default:
		return nil, fmt.Errorf("unknown events backend: %q", cfg.Backend)
	}

	channel := cfg.Channel
	if channel == "" {
		return nil, errors.New("events channel is required")
	}

	return &Publisher{backend: backend, channel: channel}, nil
}

// Publish emits a lifecycle event. Errors are returned for the caller to
// log; publishing failures must never fail the originating request.
func (p *Publisher) Publish(ctx context.Context, event UserEvent) error {
	if p == nil {
		return nil
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	attrs := map[string]string{"type": event.Type}
	_, err = p.backend.Publish(ctx, p.channel, data, attrs)
	return err
}

// Close releases the underlying broker connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.backend.Close()
}
