// Package bus carries ledger submissions and analysis results between the
// API and the background workers.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

var (
	ErrTenantRequired = errors.New("tenantID is required")
	ErrClosed         = errors.New("bus is closed")
	ErrWildcardTenant = errors.New("cannot publish to all tenants")

	// ErrBackpressure is returned when a subscriber buffer has no room.
	// Callers submitting work should surface it as "try again later".
	ErrBackpressure = errors.New("subscriber buffer full")
)

// New creates an event bus based on configuration: "channel" keeps
// everything in-process, "nats" spreads work across nodes.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// Decode unmarshals a message payload into v.
func Decode(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload %s: %w", msg.Topic, msg.ID, err)
	}
	return nil
}
