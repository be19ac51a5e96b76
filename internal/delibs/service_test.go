package delibs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/rbac"
	"github.com/rushboard/rushboard/internal/realtime"
	"github.com/rushboard/rushboard/internal/rounds"
	"github.com/rushboard/rushboard/internal/shared"
)

// mockRepository keeps control state in memory.
type mockRepository struct {
	mu     sync.Mutex
	states map[uuid.UUID]State
}

func newMockRepository() *mockRepository {
	return &mockRepository{states: make(map[uuid.UUID]State)}
}

func (m *mockRepository) add(typ rounds.RoundType, status rounds.RoundStatus) uuid.UUID {
	id := uuid.New()
	m.states[id] = State{RoundID: id, CycleID: uuid.New(), Type: typ, Status: status, SealedPNMIDs: []uuid.UUID{}}
	return id
}

func (m *mockRepository) GetState(_ context.Context, roundID uuid.UUID) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[roundID]
	if !ok {
		return State{}, ErrRoundNotFound
	}
	return st, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, mockTx{m: m})
}

type mockTx struct{ m *mockRepository }

func (t mockTx) LockState(_ context.Context, roundID uuid.UUID) (State, error) {
	st, ok := t.m.states[roundID]
	if !ok {
		return State{}, ErrRoundNotFound
	}
	return st, nil
}

func (t mockTx) ApplyControl(_ context.Context, patch ControlPatch) (State, error) {
	st := patch.ApplyTo(t.m.states[patch.RoundID])
	t.m.states[patch.RoundID] = st
	return st, nil
}

func boolPtr(v bool) *bool { return &v }

func newTestService() (*Service, *mockRepository, *realtime.Hub) {
	repo := newMockRepository()
	hub := realtime.NewHub()
	return NewService(repo, hub, nil, nil), repo, hub
}

var admin = &auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}

func TestUpdateControlAppliesOnlyGivenFields(t *testing.T) {
	svc, repo, hub := newTestService()
	roundID := repo.add(rounds.RoundTypeDelibs, rounds.RoundStatusOpen)
	sub := hub.Subscribe(realtime.ChannelRounds, 4)
	pnm := uuid.New()

	st, err := svc.UpdateControl(context.Background(), admin, ControlPatch{RoundID: roundID, CurrentPNMID: &pnm, VotingOpen: boolPtr(true)})
	require.NoError(t, err)
	require.NotNil(t, st.CurrentPNMID)
	assert.Equal(t, pnm, *st.CurrentPNMID)
	assert.True(t, st.VotingOpen)
	assert.False(t, st.ResultsRevealed)

	ev := <-sub.Events()
	assert.Equal(t, realtime.EventDelibsUpdate, ev.Event)
	assert.Equal(t, []string{"currentPnmId", "votingOpen"}, ev.Payload["changed"])

	st, err = svc.UpdateControl(context.Background(), admin, ControlPatch{RoundID: roundID, VotingOpen: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, st.VotingOpen)
	require.NotNil(t, st.CurrentPNMID, "untouched fields survive")
	assert.Equal(t, pnm, *st.CurrentPNMID)
}

func TestUpdateControlSealsCandidate(t *testing.T) {
	svc, repo, _ := newTestService()
	roundID := repo.add(rounds.RoundTypeDelibs, rounds.RoundStatusOpen)
	pnm := uuid.New()
	sealed := []uuid.UUID{pnm, pnm}

	st, err := svc.UpdateControl(context.Background(), admin, ControlPatch{
		RoundID:         roundID,
		ResultsRevealed: boolPtr(true),
		SealedPNMIDs:    &sealed,
		SealedResults:   json.RawMessage(`{"` + pnm.String() + `":{"yes":2,"no":1}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{pnm}, st.SealedPNMIDs)
	assert.JSONEq(t, `{"`+pnm.String()+`":{"yes":2,"no":1}}`, string(st.SealedResults))

	st, err = svc.UpdateControl(context.Background(), admin, ControlPatch{RoundID: roundID, SealedResults: json.RawMessage(`null`), ClearCurrentPNM: true})
	require.NoError(t, err)
	assert.Nil(t, st.SealedResults)
	assert.Nil(t, st.CurrentPNMID)
}

func TestUpdateControlRejections(t *testing.T) {
	svc, repo, _ := newTestService()
	open := repo.add(rounds.RoundTypeDelibs, rounds.RoundStatusOpen)
	pending := repo.add(rounds.RoundTypeDelibs, rounds.RoundStatusPending)
	standard := repo.add(rounds.RoundTypeStandard, rounds.RoundStatusOpen)
	voter := &auth.Principal{ID: uuid.New(), Role: auth.RoleVoter}

	cases := []struct {
		name  string
		actor *auth.Principal
		patch ControlPatch
		kind  error
	}{
		{"voter", voter, ControlPatch{RoundID: open, VotingOpen: boolPtr(true)}, shared.ErrForbidden},
		{"empty patch", admin, ControlPatch{RoundID: open}, shared.ErrValidation},
		{"unknown round", admin, ControlPatch{RoundID: uuid.New(), VotingOpen: boolPtr(true)}, shared.ErrNotFound},
		{"pending round", admin, ControlPatch{RoundID: pending, VotingOpen: boolPtr(true)}, shared.ErrInvalidState},
		{"standard round", admin, ControlPatch{RoundID: standard, VotingOpen: boolPtr(true)}, shared.ErrInvalidState},
		{"bad snapshot", admin, ControlPatch{RoundID: open, SealedResults: json.RawMessage(`{`)}, shared.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpdateControl(context.Background(), tc.actor, tc.patch)
			assert.ErrorIs(t, err, tc.kind)
		})
	}
}

func TestControlEndpoint(t *testing.T) {
	svc, repo, _ := newTestService()
	roundID := repo.add(rounds.RoundTypeDelibs, rounds.RoundStatusOpen)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.ContextWithPrincipal(req.Context(), admin)))
		})
	})
	NewHandler(nil, svc, rbac.Middleware{Service: rbac.NewService()}).MountRoutes(r)

	send := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/delibs/control", strings.NewReader(body)))
		return rr
	}

	assert.Equal(t, http.StatusBadRequest, send(`{"roundId":"`+roundID.String()+`"}`).Code)
	assert.Equal(t, http.StatusNotFound, send(`{"roundId":"`+uuid.NewString()+`","votingOpen":true}`).Code)

	pnm := uuid.New()
	rr := send(`{"roundId":"` + roundID.String() + `","currentPnmId":"` + pnm.String() + `"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = send(`{"roundId":"` + roundID.String() + `","currentPnmId":null}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var st State
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Nil(t, st.CurrentPNMID)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/delibs/state?roundId="+roundID.String(), nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
