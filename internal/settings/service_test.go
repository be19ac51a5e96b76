package settings

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/rushboard/rushboard/internal/shared"
)

type memoryRepository struct {
	mu     sync.Mutex
	values map[string]*string
	err    error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{values: make(map[string]*string)}
}

func (m *memoryRepository) All(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		if v != nil {
			out[k] = *v
		}
	}
	return out, nil
}

func (m *memoryRepository) Upsert(_ context.Context, key string, value *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryRepository) ClearIfEquals(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.values[key]
	if current == nil || *current != value {
		return false, nil
	}
	m.values[key] = nil
	return true, nil
}

type knownCycles map[uuid.UUID]bool

func (k knownCycles) CycleExists(_ context.Context, id uuid.UUID) (bool, error) {
	return k[id], nil
}

var (
	admin = &auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
	voter = &auth.Principal{ID: uuid.New(), Role: auth.RoleVoter}
)

func newTestService(cycles ...uuid.UUID) (*Service, *memoryRepository, *realtime.Hub) {
	known := knownCycles{}
	for _, id := range cycles {
		known[id] = true
	}
	repo := newMemoryRepository()
	hub := realtime.NewHub()
	return NewService(repo, known, hub, nil, nil), repo, hub
}

func TestSetCurrentCycleBroadcasts(t *testing.T) {
	cycleID := uuid.New()
	svc, _, hub := newTestService(cycleID)
	sub := hub.Subscribe(realtime.ChannelSettings, 4)

	snap, err := svc.SetCurrentCycle(context.Background(), admin, &cycleID)
	require.NoError(t, err)
	require.NotNil(t, snap.CurrentCycleID)
	assert.Equal(t, cycleID, *snap.CurrentCycleID)

	ev := <-sub.Events()
	assert.Equal(t, realtime.EventCurrentCycle, ev.Event)

	current, err := svc.CurrentCycleID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &cycleID, current)

	snap, err = svc.SetCurrentCycle(context.Background(), admin, nil)
	require.NoError(t, err)
	assert.Nil(t, snap.CurrentCycleID)
}

func TestSetCurrentCycleRejects(t *testing.T) {
	svc, _, _ := newTestService()
	missing := uuid.New()

	_, err := svc.SetCurrentCycle(context.Background(), voter, nil)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.SetCurrentCycle(context.Background(), admin, &missing)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetPublishedTogglesFlag(t *testing.T) {
	svc, _, hub := newTestService()
	sub := hub.Subscribe(realtime.ChannelSettings, 4)

	published, err := svc.Published(context.Background(), KeyDNIStatsPublished)
	require.NoError(t, err)
	assert.False(t, published)

	snap, err := svc.SetPublished(context.Background(), admin, KeyDNIStatsPublished, true)
	require.NoError(t, err)
	assert.True(t, snap.DNIStatsPublished)
	assert.False(t, snap.StatsPublished)

	ev := <-sub.Events()
	assert.Equal(t, realtime.EventPublishToggle, ev.Event)
	assert.Equal(t, KeyDNIStatsPublished, ev.Payload["key"])
	assert.Equal(t, true, ev.Payload["value"])

	_, err = svc.SetPublished(context.Background(), admin, "current_cycle_id", true)
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Published(context.Background(), "nope")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestClearCurrentCycleIfOnlyClearsMatching(t *testing.T) {
	cycleID := uuid.New()
	svc, _, hub := newTestService(cycleID)
	_, err := svc.SetCurrentCycle(context.Background(), admin, &cycleID)
	require.NoError(t, err)
	sub := hub.Subscribe(realtime.ChannelSettings, 4)

	cleared, err := svc.ClearCurrentCycleIf(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, cleared)
	assert.Len(t, sub.Events(), 0)

	cleared, err = svc.ClearCurrentCycleIf(context.Background(), cycleID)
	require.NoError(t, err)
	assert.True(t, cleared)
	current, err := svc.CurrentCycleID(context.Background())
	require.NoError(t, err)
	assert.Nil(t, current)
	assert.Len(t, sub.Events(), 1)
}

func TestSnapshotSurfacesStoreErrors(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.err = errors.New("connection refused")

	_, err := svc.Snapshot(context.Background())
	require.Error(t, err)
	assert.Equal(t, "internal", shared.Kind(err))

	repo.err = nil
	bad := "not-a-uuid"
	repo.values[KeyCurrentCycleID] = &bad
	_, err = svc.CurrentCycleID(context.Background())
	assert.Error(t, err)
}

func TestSettingsEndpoints(t *testing.T) {
	cycleID := uuid.New()
	svc, _, _ := newTestService(cycleID)

	serve := func(p *auth.Principal, method, path, body string) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(auth.ContextWithPrincipal(req.Context(), p)))
			})
		})
		NewHandler(nil, svc, rbac.Middleware{Service: rbac.NewService()}).MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rr
	}

	assert.Equal(t, http.StatusForbidden, serve(voter, http.MethodPut, "/settings/publish", `{"key":"stats_published","value":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(admin, http.MethodPut, "/settings/publish", `{"key":"other","value":true}`).Code)
	assert.Equal(t, http.StatusOK, serve(admin, http.MethodPut, "/settings/publish", `{"key":"stats_published","value":true}`).Code)
	assert.Equal(t, http.StatusNotFound, serve(admin, http.MethodPut, "/settings/current-cycle", `{"cycleId":"`+uuid.NewString()+`"}`).Code)
	assert.Equal(t, http.StatusOK, serve(admin, http.MethodPut, "/settings/current-cycle", `{"cycleId":"`+cycleID.String()+`"}`).Code)

	rr := serve(voter, http.MethodGet, "/settings", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.True(t, snap.StatsPublished)
	require.NotNil(t, snap.CurrentCycleID)
	assert.Equal(t, cycleID, *snap.CurrentCycleID)
}
