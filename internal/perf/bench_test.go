package perf

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/realtime"
	"github.com/rushboard/rushboard/internal/rounds"
	"github.com/rushboard/rushboard/internal/rounds/roundstest"
)

func BenchmarkHubFanout(b *testing.B) {
	hub := realtime.NewHub()
	subs := make([]*realtime.Subscription, 100)
	for i := range subs {
		subs[i] = hub.Subscribe(realtime.ChannelRounds, 1)
	}
	ev := realtime.NewEvent(realtime.ChannelRounds, realtime.EventStatusChange, map[string]any{"status": "open"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = hub.Publish(context.Background(), ev)
	}
	b.StopTimer()
	for _, sub := range subs {
		hub.Unsubscribe(sub)
	}
}

func BenchmarkParallelOverride(b *testing.B) {
	store := roundstest.New()
	cycleID := store.AddCycle("active")
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ev := store.AddEvent(cycleID, "Event "+uuid.NewString()[:8], time.Now().Add(-time.Hour), rounds.RoundTypeStandard)
		ids[i] = ev.RoundID
	}
	svc := rounds.NewService(store, nil, nil, nil)
	admin := &auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
	var n atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			id := ids[int(n.Add(1))%len(ids)]
			if _, err := svc.Override(context.Background(), admin, id, rounds.ActionOpen); err != nil {
				b.Error(err)
				return
			}
		}
	})
	b.StopTimer()
	if open := store.OpenRounds(cycleID); len(open) != 1 {
		b.Fatalf("expected one open round, got %d", len(open))
	}
}
