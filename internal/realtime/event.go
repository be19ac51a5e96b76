// Package realtime fans committed state changes out to connected clients.
// Delivery is best-effort: clients re-fetch authoritative state after reconnecting.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channels carried by the fan-out.
const (
	ChannelRounds   = "rounds"
	ChannelSettings = "settings"
)

// Event names.
const (
	EventStatusChange  = "status-change"
	EventDelibsUpdate  = "delibs-update"
	EventPublishToggle = "publish-toggle"
	EventCurrentCycle  = "current-cycle"
	EventReady         = "ready"
)

// Event is a single broadcast message. On the wire the payload fields sit next
// to the envelope fields, e.g. {"event":"status-change","roundId":..,"action":..,"timestamp":..}.
type Event struct {
	ID      uuid.UUID
	Channel string
	Event   string
	Payload map[string]any
	At      time.Time
}

// envelope keys win over payload keys of the same name.
var envelopeKeys = map[string]bool{"id": true, "channel": true, "event": true, "timestamp": true}

// MarshalJSON flattens the payload into the envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+4)
	for k, v := range e.Payload {
		if !envelopeKeys[k] {
			out[k] = v
		}
	}
	out["id"] = e.ID
	out["channel"] = e.Channel
	out["event"] = e.Event
	out["timestamp"] = e.At
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat message back into envelope and payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ev Event
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &ev.ID); err != nil {
			return fmt.Errorf("realtime: event id: %w", err)
		}
	}
	if v, ok := raw["channel"]; ok {
		if err := json.Unmarshal(v, &ev.Channel); err != nil {
			return fmt.Errorf("realtime: event channel: %w", err)
		}
	}
	if v, ok := raw["event"]; ok {
		if err := json.Unmarshal(v, &ev.Event); err != nil {
			return fmt.Errorf("realtime: event name: %w", err)
		}
	}
	if v, ok := raw["timestamp"]; ok {
		if err := json.Unmarshal(v, &ev.At); err != nil {
			return fmt.Errorf("realtime: event timestamp: %w", err)
		}
	}
	for k, v := range raw {
		if envelopeKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("realtime: event field %s: %w", k, err)
		}
		if ev.Payload == nil {
			ev.Payload = make(map[string]any, len(raw))
		}
		ev.Payload[k] = val
	}
	*e = ev
	return nil
}

// NewEvent stamps a new event for channel.
func NewEvent(channel, name string, payload map[string]any) Event {
	return Event{
		ID:      uuid.New(),
		Channel: channel,
		Event:   name,
		Payload: payload,
		At:      time.Now().UTC(),
	}
}

// Publisher is called by the core after a mutation has committed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event. Used when no fan-out is configured.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }

// KnownChannel reports whether channel may be subscribed to.
func KnownChannel(channel string) bool {
	return channel == ChannelRounds || channel == ChannelSettings
}
