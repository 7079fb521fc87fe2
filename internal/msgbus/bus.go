// Package msgbus is the collaborator boundary between the extraction side
// and the matching/storage side: an asynchronous request/response channel
// with typed envelopes discriminated on a type tag.
package msgbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Envelope is one message on the bus. Payload shape is determined by Type.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler consumes one request payload and produces the response payload.
// Returned errors cross the boundary as typed results, never panics.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Bus routes envelopes to per-type handlers.
type Bus struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[MessageType]Handler
}

// New builds an empty bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, handlers: map[MessageType]Handler{}}
}

// Handle registers (or replaces) the handler for a message type.
func (b *Bus) Handle(t MessageType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = h
}

// Request dispatches the envelope and returns the response envelope with
// the same correlation id (one is assigned when the request carries none).
func (b *Bus) Request(ctx context.Context, env Envelope) (Envelope, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	b.mu.RLock()
	handler, ok := b.handlers[env.Type]
	b.mu.RUnlock()
	if !ok {
		return Envelope{}, fmt.Errorf("msgbus: no handler for %q", env.Type)
	}

	result, err := handler(ctx, env.Payload)
	if err != nil {
		b.log.Debug("handler returned error", "type", env.Type, "id", env.ID, "error", err)
		return Envelope{}, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return Envelope{}, fmt.Errorf("msgbus: marshal %s response: %w", env.Type, err)
	}
	return Envelope{Type: env.Type, ID: env.ID, Payload: raw}, nil
}

// Send marshals the payload and dispatches it, decoding the response into
// out when out is non-nil.
func (b *Bus) Send(ctx context.Context, t MessageType, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("msgbus: marshal %s request: %w", t, err)
	}
	resp, err := b.Request(ctx, Envelope{Type: t, Payload: raw})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, out); err != nil {
		return fmt.Errorf("msgbus: decode %s response: %w", t, err)
	}
	return nil
}
