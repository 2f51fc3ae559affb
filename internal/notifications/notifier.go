package notifications

import (
	"context"
	"fmt"
	"time"
)

// Channel names are opaque strings; the engine does not format
// channel-specific payloads.
const (
	ChannelEmail     = "email"
	ChannelWebhook   = "webhook"
	ChannelWebsocket = "websocket"
)

// Payload is the generic alert payload dispatched on every channel.
type Payload struct {
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Severity string         `json:"severity"`
	Data     map[string]any `json:"data,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// Notifier dispatches a payload on one channel to a set of recipients.
type Notifier interface {
	Dispatch(ctx context.Context, channel string, recipients []string, payload Payload) error
}

// DispatchError reports a per-channel delivery failure. Non-fatal: one
// failing channel never blocks the others or alert persistence.
type DispatchError struct {
	Channel string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch on %s failed: %v", e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
