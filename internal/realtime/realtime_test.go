package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestHubDeliversPerChannel(t *testing.T) {
	hub := NewHub()
	rounds := hub.Subscribe(ChannelRounds, 4)
	settings := hub.Subscribe(ChannelSettings, 4)

	require.NoError(t, hub.Publish(context.Background(), NewEvent(ChannelRounds, EventStatusChange, map[string]any{"action": "open"})))

	ev := receive(t, rounds)
	assert.Equal(t, EventStatusChange, ev.Event)
	assert.Len(t, settings.Events(), 0)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(ChannelRounds, 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(context.Background(), NewEvent(ChannelRounds, EventStatusChange, nil)))
	}

	assert.Len(t, sub.Events(), 1)
	assert.Equal(t, int64(4), hub.Dropped())
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(ChannelRounds, 1)
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers(ChannelRounds))
}

func TestRedisBridgeRelaysIntoHub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	sub := hub.Subscribe(ChannelSettings, 4)
	bridge := NewRedisBridge(client, "test:", nil)
	require.NoError(t, bridge.Relay(ctx, hub))

	sent := NewEvent(ChannelSettings, EventPublishToggle, map[string]any{"key": "stats_published", "value": true})
	require.NoError(t, bridge.Publish(ctx, sent))

	got := receive(t, sub)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, EventPublishToggle, got.Event)
	assert.Equal(t, true, got.Payload["value"])
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("redis down") }

func TestBroadcasterSwallowsErrors(t *testing.T) {
	b := NewBroadcaster(failingPublisher{}, nil)
	assert.NoError(t, b.Publish(context.Background(), NewEvent(ChannelRounds, EventStatusChange, nil)))
}

func TestStreamWritesHubEvents(t *testing.T) {
	hub := NewHub()
	h := NewHandler(hub, nil, nil)
	r := chi.NewRouter()
	r.Route("/realtime", h.MountRoutes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime/rounds"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ready Event
	require.NoError(t, wsjson.Read(ctx, conn, &ready))
	assert.Equal(t, EventReady, ready.Event)

	require.Eventually(t, func() bool { return hub.Subscribers(ChannelRounds) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(ctx, NewEvent(ChannelRounds, EventStatusChange, map[string]any{"action": "close"})))

	var got Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, EventStatusChange, got.Event)
	assert.Equal(t, "close", got.Payload["action"])
}

func TestEventWireShapeIsFlat(t *testing.T) {
	roundID := uuid.NewString()
	at := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
	ev := NewEvent(ChannelRounds, EventStatusChange, map[string]any{
		"roundId": roundID,
		"action":  "open",
		"event":   "ignored",
	})
	ev.At = at

	body, err := json.Marshal(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, EventStatusChange, wire["event"])
	assert.Equal(t, roundID, wire["roundId"])
	assert.Equal(t, "open", wire["action"])
	assert.Equal(t, "2026-09-01T18:00:00Z", wire["timestamp"])
	assert.NotContains(t, wire, "payload")

	var back Event
	require.NoError(t, json.Unmarshal(body, &back))
	assert.Equal(t, ev.ID, back.ID)
	assert.Equal(t, ChannelRounds, back.Channel)
	assert.True(t, at.Equal(back.At))
	assert.Equal(t, map[string]any{"roundId": roundID, "action": "open"}, back.Payload)
}
