package rounds_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/platform/httpx"
	"github.com/rushboard/rushboard/internal/rbac"
	"github.com/rushboard/rushboard/internal/rounds"
)

type staticCycle struct{ id *uuid.UUID }

func (s staticCycle) CurrentCycleID(context.Context) (*uuid.UUID, error) { return s.id, nil }

func newRouter(f *fixture, current *uuid.UUID, p *auth.Principal) http.Handler {
	h := rounds.NewHandler(nil, f.service, staticCycle{id: current}, rbac.Middleware{Service: rbac.NewService()})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.ContextWithPrincipal(req.Context(), p)))
		})
	})
	h.MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestOverrideEndpoint(t *testing.T) {
	f := newFixture(t)
	a := f.event("Meet the Chapter", -time.Hour)
	voter := &auth.Principal{ID: uuid.New(), Role: auth.RoleVoter}

	rr := do(t, newRouter(f, nil, voter), http.MethodPost, "/rounds/"+a.RoundID.String()+"/override", `{"action":"open"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	admin := newRouter(f, nil, f.admin)
	rr = do(t, admin, http.MethodPost, "/rounds/"+a.RoundID.String()+"/override", `{"action":"pause"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, admin, http.MethodPost, "/rounds/"+a.RoundID.String()+"/override", `{"action":"open"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var got rounds.Round
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, rounds.RoundStatusOpen, got.Status)

	rr = do(t, admin, http.MethodPost, "/rounds/"+uuid.NewString()+"/override", `{"action":"close"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCurrentRoundUsesCurrentCycleSetting(t *testing.T) {
	f := newFixture(t)
	a := f.event("Meet the Chapter", -time.Hour)
	f.store.SetStatus(a.RoundID, rounds.RoundStatusOpen)

	rr := do(t, newRouter(f, nil, f.admin), http.MethodGet, "/rounds/current", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "invalid_state", problem.Type)

	rr = do(t, newRouter(f, &f.cycleID, f.admin), http.MethodGet, "/rounds/current", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Round *rounds.Round `json:"round"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotNil(t, body.Round)
	assert.Equal(t, a.RoundID, body.Round.ID)
}

func TestCreateEventEndpoint(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f, &f.cycleID, f.admin)

	payload := `{"name":"Preference Night","startsAt":"` + baseTime.Add(48*time.Hour).Format(time.RFC3339) + `","roundType":"delibs"}`
	rr := do(t, h, http.MethodPost, "/events", payload)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/events", strings.Replace(payload, "Preference Night", "preference night", 1))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, "/events", `{"name":"x","startsAt":"`+baseTime.Add(time.Hour).Format(time.RFC3339)+`","roundType":"ranked"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateEventDefaultsToStandardRound(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f, &f.cycleID, f.admin)

	rr := do(t, h, http.MethodPost, "/events", `{"name":"Sisterhood Social","startsAt":"`+baseTime.Add(24*time.Hour).Format(time.RFC3339)+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var ev rounds.Event
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ev))
	assert.Equal(t, rounds.RoundTypeStandard, ev.RoundType)
	assert.Equal(t, rounds.RoundTypeStandard, f.store.Round(ev.RoundID).Type)
	assert.Equal(t, f.cycleID, ev.CycleID)
}
