package advance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushboard/rushboard/internal/rounds"
	"github.com/rushboard/rushboard/internal/rounds/roundstest"
)

var sweepTime = time.Date(2026, 9, 14, 19, 0, 0, 0, time.UTC)

func newSweeper(store *roundstest.Memory) *Sweeper {
	svc := rounds.NewService(store, nil, nil, nil).WithNow(func() time.Time { return sweepTime })
	return NewSweeper(store, svc, nil)
}

func TestSweepOpensStartedEventAndLeavesFutureEventPending(t *testing.T) {
	store := roundstest.New()
	cycleID := store.AddCycle("active")
	e1 := store.AddEvent(cycleID, "Meet the Chapter", sweepTime.Add(-10*time.Minute), rounds.RoundTypeStandard)
	e2 := store.AddEvent(cycleID, "Philanthropy Night", sweepTime.Add(10*time.Minute), rounds.RoundTypeStandard)
	sweeper := newSweeper(store)

	report := sweeper.Sweep(context.Background(), cycleID, sweepTime)
	require.Empty(t, report.Errors)
	require.Len(t, report.Transitions, 1)
	assert.Equal(t, e1.RoundID, report.Transitions[0].RoundID)
	assert.Equal(t, rounds.ActionOpen, report.Transitions[0].Action)
	require.NotNil(t, report.OpenRound)
	assert.Equal(t, e1.RoundID, report.OpenRound.ID)
	require.NotNil(t, report.NextEvent)
	assert.Equal(t, e2.ID, report.NextEvent.ID)

	assert.Equal(t, rounds.RoundStatusOpen, store.Round(e1.RoundID).Status)
	assert.Equal(t, rounds.RoundStatusPending, store.Round(e2.RoundID).Status)

	txBefore := store.TxCount()
	again := sweeper.Sweep(context.Background(), cycleID, sweepTime.Add(time.Second))
	assert.Empty(t, again.Transitions)
	assert.Empty(t, again.Errors)
	assert.Equal(t, txBefore, store.TxCount())
	assert.Equal(t, e1.RoundID, again.OpenRound.ID)
}

func TestSweepClosesPreviousRoundWhenNextEventStarts(t *testing.T) {
	store := roundstest.New()
	cycleID := store.AddCycle("active")
	e1 := store.AddEvent(cycleID, "Meet the Chapter", sweepTime.Add(-2*time.Hour), rounds.RoundTypeStandard)
	e2 := store.AddEvent(cycleID, "Bid Day Delibs", sweepTime.Add(-time.Minute), rounds.RoundTypeDelibs)
	store.SetStatus(e1.RoundID, rounds.RoundStatusOpen)

	report := newSweeper(store).Sweep(context.Background(), cycleID, sweepTime)
	require.Empty(t, report.Errors)
	require.Len(t, report.Transitions, 2)
	assert.Equal(t, rounds.ActionClose, report.Transitions[0].Action)
	assert.Equal(t, e1.RoundID, report.Transitions[0].RoundID)
	assert.Equal(t, e2.RoundID, report.OpenRound.ID)
	assert.Nil(t, report.NextEvent)
}

func TestSweepPicksLatestAndSkipsOlderPendingEvents(t *testing.T) {
	store := roundstest.New()
	cycleID := store.AddCycle("active")
	older := store.AddEvent(cycleID, "Open House", sweepTime.Add(-3*time.Hour), rounds.RoundTypeStandard)
	latest := store.AddEvent(cycleID, "Sisterhood", sweepTime.Add(-time.Hour), rounds.RoundTypeStandard)

	report := newSweeper(store).Sweep(context.Background(), cycleID, sweepTime)
	require.Empty(t, report.Errors)
	assert.Equal(t, latest.RoundID, report.OpenRound.ID)
	assert.Equal(t, []uuid.UUID{older.ID}, report.Skipped)
	assert.Equal(t, rounds.RoundStatusPending, store.Round(older.RoundID).Status)
}

func TestPickLatestBreaksTiesByEventID(t *testing.T) {
	at := sweepTime.Add(-time.Hour)
	a := rounds.Event{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), StartsAt: at, RoundStatus: rounds.RoundStatusPending}
	b := rounds.Event{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), StartsAt: at, RoundStatus: rounds.RoundStatusPending}

	got, ok := pickLatest([]rounds.Event{b, a})
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)

	_, ok = pickLatest(nil)
	assert.False(t, ok)
}

type failingStore struct {
	*roundstest.Memory
	err error
}

func (f failingStore) DueEvents(context.Context, uuid.UUID, time.Time) ([]rounds.Event, error) {
	return nil, f.err
}

func TestSweepCapturesErrorsInReport(t *testing.T) {
	store := roundstest.New()
	cycleID := store.AddCycle("active")
	svc := rounds.NewService(store, nil, nil, nil)
	sweeper := NewSweeper(failingStore{Memory: store, err: errors.New("connection refused")}, svc, nil)

	report := sweeper.Sweep(context.Background(), cycleID, sweepTime)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "read due events")
	assert.True(t, report.Failed())
}

type staticCycle struct{ id *uuid.UUID }

func (s staticCycle) CurrentCycleID(context.Context) (*uuid.UUID, error) { return s.id, nil }

func TestSweepEndpoint(t *testing.T) {
	store := roundstest.New()
	cycleID := store.AddCycle("active")
	e1 := store.AddEvent(cycleID, "Meet the Chapter", sweepTime.Add(-time.Minute), rounds.RoundTypeStandard)

	h := NewHandler(nil, newSweeper(store), staticCycle{id: &cycleID})
	h.clock = func() time.Time { return sweepTime }
	r := chi.NewRouter()
	r.Route("/internal", h.MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/sweep", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Len(t, report.Transitions, 1)
	assert.Equal(t, e1.RoundID, report.Transitions[0].RoundID)

	h = NewHandler(nil, newSweeper(store), staticCycle{})
	r = chi.NewRouter()
	r.Route("/internal", h.MountRoutes)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/sweep", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.NotEmpty(t, report.Errors)
}
