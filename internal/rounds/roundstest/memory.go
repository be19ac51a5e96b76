// Package roundstest provides an in-memory rounds.Repository for tests.
package roundstest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/rounds"
)

var _ rounds.Repository = (*Memory)(nil)

// Memory is a mutex-serialised rounds.Repository. Every committed transaction is
// checked for more than one open round per cycle.
type Memory struct {
	mu     sync.Mutex
	cycles map[uuid.UUID]string
	rounds map[uuid.UUID]rounds.Round
	events map[uuid.UUID]rounds.Event

	// BeforeTx, when set, runs before each transaction acquires the store.
	BeforeTx func()
	// FailTx, when set, is returned from the next transaction instead of running it.
	FailTx error

	txCount int
}

// New returns an empty store.
func New() *Memory {
	return &Memory{
		cycles: make(map[uuid.UUID]string),
		rounds: make(map[uuid.UUID]rounds.Round),
		events: make(map[uuid.UUID]rounds.Event),
	}
}

// AddCycle seeds a cycle with the given status.
func (m *Memory) AddCycle(status string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.cycles[id] = status
	return id
}

// AddEvent seeds an event with a pending round.
func (m *Memory) AddEvent(cycleID uuid.UUID, name string, startsAt time.Time, typ rounds.RoundType) rounds.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := rounds.Event{
		ID:          uuid.New(),
		CycleID:     cycleID,
		Name:        name,
		StartsAt:    startsAt,
		CreatedAt:   startsAt.Add(-time.Hour),
		RoundID:     uuid.New(),
		RoundType:   typ,
		RoundStatus: rounds.RoundStatusPending,
	}
	m.events[ev.ID] = ev
	m.rounds[ev.RoundID] = rounds.Round{
		ID: ev.RoundID, EventID: ev.ID, CycleID: cycleID,
		Type: typ, Status: rounds.RoundStatusPending, CreatedAt: ev.CreatedAt,
	}
	return ev
}

// SetStatus forces a round's status, bypassing the state machine.
func (m *Memory) SetStatus(roundID uuid.UUID, status rounds.RoundStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rounds[roundID]
	r.Status = status
	m.rounds[roundID] = r
}

// Round returns the stored round.
func (m *Memory) Round(id uuid.UUID) rounds.Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rounds[id]
}

// OpenRounds lists the ids of open rounds in the cycle.
func (m *Memory) OpenRounds(cycleID uuid.UUID) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, r := range m.rounds {
		if r.CycleID == cycleID && r.Status == rounds.RoundStatusOpen {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// TxCount reports how many transactions committed.
func (m *Memory) TxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCount
}

// WithTx implements rounds.Repository. Failed callbacks roll back.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, rounds.TxRepository) error) error {
	if m.BeforeTx != nil {
		m.BeforeTx()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTx != nil {
		err := m.FailTx
		m.FailTx = nil
		return err
	}

	savedRounds := make(map[uuid.UUID]rounds.Round, len(m.rounds))
	for k, v := range m.rounds {
		savedRounds[k] = v
	}
	savedEvents := make(map[uuid.UUID]rounds.Event, len(m.events))
	for k, v := range m.events {
		savedEvents[k] = v
	}

	err := fn(ctx, &memoryTx{m: m})
	if err == nil {
		err = m.checkSingleOpen()
	}
	if err != nil {
		m.rounds = savedRounds
		m.events = savedEvents
		return err
	}
	m.txCount++
	return nil
}

func (m *Memory) checkSingleOpen() error {
	open := make(map[uuid.UUID]int)
	for _, r := range m.rounds {
		if r.Status == rounds.RoundStatusOpen {
			open[r.CycleID]++
			if open[r.CycleID] > 1 {
				return fmt.Errorf("roundstest: cycle %s has %d open rounds", r.CycleID, open[r.CycleID])
			}
		}
	}
	return nil
}

func (m *Memory) GetRound(_ context.Context, id uuid.UUID) (rounds.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getRound(id)
}

func (m *Memory) ListRounds(_ context.Context, cycleID uuid.UUID) ([]rounds.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rounds.Round
	for _, ev := range m.sortedEvents(cycleID) {
		out = append(out, m.rounds[ev.RoundID])
	}
	return out, nil
}

func (m *Memory) CurrentOpenRound(_ context.Context, cycleID uuid.UUID) (*rounds.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentOpen(cycleID), nil
}

func (m *Memory) GetEvent(_ context.Context, id uuid.UUID) (rounds.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getEvent(id)
}

func (m *Memory) ListEvents(_ context.Context, cycleID uuid.UUID) ([]rounds.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedEvents(cycleID), nil
}

func (m *Memory) DueEvents(_ context.Context, cycleID uuid.UUID, now time.Time) ([]rounds.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rounds.Event
	for _, ev := range m.sortedEvents(cycleID) {
		if !ev.StartsAt.After(now) && ev.RoundStatus == rounds.RoundStatusPending {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.After(out[j].StartsAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Memory) NextEvent(_ context.Context, cycleID uuid.UUID, now time.Time) (*rounds.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.sortedEvents(cycleID) {
		if ev.StartsAt.After(now) {
			return &ev, nil
		}
	}
	return nil, nil
}

func (m *Memory) getRound(id uuid.UUID) (rounds.Round, error) {
	r, ok := m.rounds[id]
	if !ok {
		return rounds.Round{}, rounds.ErrRoundNotFound
	}
	return r, nil
}

func (m *Memory) getEvent(id uuid.UUID) (rounds.Event, error) {
	ev, ok := m.events[id]
	if !ok {
		return rounds.Event{}, rounds.ErrEventNotFound
	}
	r := m.rounds[ev.RoundID]
	ev.RoundType = r.Type
	ev.RoundStatus = r.Status
	return ev, nil
}

func (m *Memory) currentOpen(cycleID uuid.UUID) *rounds.Round {
	for _, r := range m.rounds {
		if r.CycleID == cycleID && r.Status == rounds.RoundStatusOpen {
			return &r
		}
	}
	return nil
}

// sortedEvents orders by start time then id, matching the SQL ordering.
func (m *Memory) sortedEvents(cycleID uuid.UUID) []rounds.Event {
	var out []rounds.Event
	for id, ev := range m.events {
		if ev.CycleID != cycleID {
			continue
		}
		full, _ := m.getEvent(id)
		out = append(out, full)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

type memoryTx struct {
	m *Memory
}

func (t *memoryTx) LockCycle(_ context.Context, cycleID uuid.UUID) (string, error) {
	return t.CycleStatus(context.Background(), cycleID)
}

func (t *memoryTx) CycleStatus(_ context.Context, cycleID uuid.UUID) (string, error) {
	status, ok := t.m.cycles[cycleID]
	if !ok {
		return "", rounds.ErrCycleNotFound
	}
	return status, nil
}

func (t *memoryTx) GetRound(_ context.Context, id uuid.UUID) (rounds.Round, error) {
	return t.m.getRound(id)
}

func (t *memoryTx) CurrentOpenRound(_ context.Context, cycleID uuid.UUID) (*rounds.Round, error) {
	return t.m.currentOpen(cycleID), nil
}

func (t *memoryTx) SetRoundStatus(_ context.Context, id uuid.UUID, status rounds.RoundStatus, at time.Time) error {
	r, err := t.m.getRound(id)
	if err != nil {
		return err
	}
	r.Status = status
	switch status {
	case rounds.RoundStatusOpen:
		r.OpenedAt = &at
		r.ClosedAt = nil
	case rounds.RoundStatusClosed:
		r.ClosedAt = &at
		r.VotingOpen = false
	}
	t.m.rounds[id] = r
	return nil
}

func (t *memoryTx) GetEvent(_ context.Context, id uuid.UUID) (rounds.Event, error) {
	return t.m.getEvent(id)
}

func (t *memoryTx) InsertEvent(_ context.Context, ev rounds.Event) error {
	if t.nameTaken(ev) {
		return rounds.ErrDuplicateEventName
	}
	t.m.events[ev.ID] = ev
	return nil
}

func (t *memoryTx) InsertRound(_ context.Context, round rounds.Round) error {
	t.m.rounds[round.ID] = round
	return nil
}

func (t *memoryTx) UpdateEvent(_ context.Context, ev rounds.Event) error {
	if _, ok := t.m.events[ev.ID]; !ok {
		return rounds.ErrEventNotFound
	}
	if t.nameTaken(ev) {
		return rounds.ErrDuplicateEventName
	}
	t.m.events[ev.ID] = ev
	return nil
}

func (t *memoryTx) DeleteEvent(_ context.Context, ev rounds.Event) error {
	delete(t.m.rounds, ev.RoundID)
	delete(t.m.events, ev.ID)
	return nil
}

func (t *memoryTx) nameTaken(ev rounds.Event) bool {
	key := strings.TrimSpace(ev.Name)
	for id, other := range t.m.events {
		if id != ev.ID && other.CycleID == ev.CycleID && strings.EqualFold(strings.TrimSpace(other.Name), key) {
			return true
		}
	}
	return false
}
