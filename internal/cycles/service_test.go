package cycles

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/rbac"
	"github.com/rushboard/rushboard/internal/shared"
)

// mockRepository stores cycles plus a row count per dependent table.
type mockRepository struct {
	mu      sync.Mutex
	cycles  map[uuid.UUID]Cycle
	rows    map[string]map[uuid.UUID]int64
	missing map[string]bool
	failOn  map[string]error
	order   []string
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		cycles:  make(map[uuid.UUID]Cycle),
		rows:    make(map[string]map[uuid.UUID]int64),
		missing: make(map[string]bool),
		failOn:  make(map[string]error),
	}
}

func (m *mockRepository) seed(status Status) uuid.UUID {
	id := uuid.New()
	m.cycles[id] = Cycle{ID: id, Name: "Fall " + id.String()[:4], Status: status, CreatedAt: time.Now()}
	for _, step := range cascade {
		if m.rows[step.Table] == nil {
			m.rows[step.Table] = make(map[uuid.UUID]int64)
		}
		m.rows[step.Table][id] = 3
	}
	return id
}

func (m *mockRepository) Create(_ context.Context, name string) (Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Cycle{ID: uuid.New(), Name: name, Status: StatusActive, CreatedAt: time.Now()}
	m.cycles[c.ID] = c
	return c, nil
}

func (m *mockRepository) Get(_ context.Context, id uuid.UUID) (Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[id]
	if !ok {
		return Cycle{}, ErrCycleNotFound
	}
	return c, nil
}

func (m *mockRepository) List(context.Context) ([]Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Cycle, 0, len(m.cycles))
	for _, c := range m.cycles {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockRepository) Update(_ context.Context, id uuid.UUID, in UpdateInput) (Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[id]
	if !ok {
		return Cycle{}, ErrCycleNotFound
	}
	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Status != nil {
		c.Status = *in.Status
	}
	m.cycles[id] = c
	return c, nil
}

func (m *mockRepository) CycleExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cycles[id]
	return ok, nil
}

func (m *mockRepository) DeleteDependents(_ context.Context, step Step, cycleID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, step.Table)
	if m.missing[step.Table] {
		return 0, &pgconn.PgError{Code: "42P01", Message: `relation "` + step.Table + `" does not exist`}
	}
	if err := m.failOn[step.Table]; err != nil {
		return 0, err
	}
	n := m.rows[step.Table][cycleID]
	delete(m.rows[step.Table], cycleID)
	return n, nil
}

func (m *mockRepository) DeleteCycle(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cycles[id]; !ok {
		return ErrCycleNotFound
	}
	m.order = append(m.order, "cycles")
	delete(m.cycles, id)
	return nil
}

func (m *mockRepository) remaining(table string, id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[table][id]
}

type fakeSettings struct {
	current *uuid.UUID
	err     error
}

func (f *fakeSettings) ClearCurrentCycleIf(_ context.Context, id uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.current == nil || *f.current != id {
		return false, nil
	}
	f.current = nil
	return true, nil
}

var (
	admin = &auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
	voter = &auth.Principal{ID: uuid.New(), Role: auth.RoleVoter}
)

func TestDeleteArchivedCurrentCycleClearsSetting(t *testing.T) {
	repo := newMockRepository()
	id := repo.seed(StatusArchived)
	settings := &fakeSettings{current: &id}
	svc := NewService(repo, settings, nil, nil)

	report, err := svc.Delete(context.Background(), admin, id)
	require.NoError(t, err)

	assert.True(t, report.ClearedCurrentCycle)
	assert.Nil(t, settings.current)
	assert.Equal(t, int64(3), report.Deleted["votes"])
	exists, _ := repo.CycleExists(context.Background(), id)
	assert.False(t, exists)

	want := make([]string, 0, len(cascade)+1)
	for _, step := range cascade {
		want = append(want, step.Table)
	}
	assert.Equal(t, append(want, "cycles"), repo.order)
}

func TestDeleteKeepsUnrelatedCurrentCycle(t *testing.T) {
	repo := newMockRepository()
	id := repo.seed(StatusArchived)
	other := uuid.New()
	settings := &fakeSettings{current: &other}

	report, err := NewService(repo, settings, nil, nil).Delete(context.Background(), admin, id)
	require.NoError(t, err)
	assert.False(t, report.ClearedCurrentCycle)
	assert.Equal(t, &other, settings.current)
}

func TestDeleteActiveCycleConflictsAndKeepsData(t *testing.T) {
	repo := newMockRepository()
	id := repo.seed(StatusActive)
	settings := &fakeSettings{current: &id}

	_, err := NewService(repo, settings, nil, nil).Delete(context.Background(), admin, id)
	require.ErrorIs(t, err, shared.ErrConflict)
	assert.Empty(t, repo.order)
	assert.Equal(t, int64(3), repo.remaining("delibs_votes", id))
	assert.Equal(t, &id, settings.current)
}

func TestDeleteToleratesMissingTables(t *testing.T) {
	repo := newMockRepository()
	id := repo.seed(StatusArchived)
	repo.missing["attendance"] = true
	repo.missing["comments"] = true

	report, err := NewService(repo, nil, nil, nil).Delete(context.Background(), admin, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"comments", "attendance"}, report.MissingTables)
	assert.NotContains(t, report.Deleted, "attendance")
}

func TestDeleteAbortsBeforeCycleRowAndResumes(t *testing.T) {
	repo := newMockRepository()
	id := repo.seed(StatusArchived)
	repo.failOn["rounds"] = errors.New("statement timeout")
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Delete(context.Background(), admin, id)
	require.Error(t, err)
	assert.Equal(t, "internal", shared.Kind(err))

	exists, _ := repo.CycleExists(context.Background(), id)
	assert.True(t, exists)
	assert.Zero(t, repo.remaining("votes", id))
	assert.Equal(t, int64(3), repo.remaining("rounds", id))
	assert.Equal(t, int64(3), repo.remaining("events", id))

	delete(repo.failOn, "rounds")
	report, err := svc.Delete(context.Background(), admin, id)
	require.NoError(t, err)
	assert.Zero(t, report.Deleted["votes"])
	assert.Equal(t, int64(3), report.Deleted["rounds"])
}

func TestDeleteRetryClearsCurrentCycleAfterRowIsGone(t *testing.T) {
	repo := newMockRepository()
	id := repo.seed(StatusArchived)
	settings := &fakeSettings{current: &id, err: errors.New("connection reset")}
	svc := NewService(repo, settings, nil, nil)

	_, err := svc.Delete(context.Background(), admin, id)
	require.Error(t, err)
	exists, _ := repo.CycleExists(context.Background(), id)
	assert.False(t, exists)
	require.NotNil(t, settings.current)

	settings.err = nil
	report, err := svc.Delete(context.Background(), admin, id)
	require.NoError(t, err)
	assert.True(t, report.ClearedCurrentCycle)
	assert.Nil(t, settings.current)

	_, err = svc.Delete(context.Background(), admin, id)
	assert.ErrorIs(t, err, ErrCycleNotFound)
}

func TestDeleteUnknownCycleLeavesOtherCurrentCycle(t *testing.T) {
	other := uuid.New()
	settings := &fakeSettings{current: &other}
	svc := NewService(newMockRepository(), settings, nil, nil)

	_, err := svc.Delete(context.Background(), admin, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, &other, settings.current)
}

func TestDeleteRequiresAdminAndKnownCycle(t *testing.T) {
	repo := newMockRepository()
	id := repo.seed(StatusArchived)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Delete(context.Background(), voter, id)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Delete(context.Background(), admin, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateValidation(t *testing.T) {
	repo := newMockRepository()
	id := repo.seed(StatusActive)
	svc := NewService(repo, nil, nil, nil)
	blank := "  "
	bogus := Status("paused")
	archived := StatusArchived

	_, err := svc.Update(context.Background(), admin, id, UpdateInput{})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Update(context.Background(), admin, id, UpdateInput{Name: &blank})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Update(context.Background(), admin, id, UpdateInput{Status: &bogus})
	assert.ErrorIs(t, err, shared.ErrValidation)

	c, err := svc.Update(context.Background(), admin, id, UpdateInput{Status: &archived})
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, c.Status)
}

func TestCycleEndpoints(t *testing.T) {
	repo := newMockRepository()
	active := repo.seed(StatusActive)
	svc := NewService(repo, nil, nil, nil)

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

	assert.Equal(t, http.StatusForbidden, serve(voter, http.MethodDelete, "/cycles/"+active.String(), "").Code)

	rr := serve(admin, http.MethodDelete, "/cycles/"+active.String(), "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), `"conflict"`)

	rr = serve(admin, http.MethodPost, "/cycles", `{"name":"Spring"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created Cycle
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, StatusActive, created.Status)

	assert.Equal(t, http.StatusBadRequest, serve(admin, http.MethodPatch, "/cycles/"+created.ID.String(), `{"status":"paused"}`).Code)
	assert.Equal(t, http.StatusOK, serve(admin, http.MethodPatch, "/cycles/"+created.ID.String(), `{"status":"archived"}`).Code)
	assert.Equal(t, http.StatusOK, serve(admin, http.MethodDelete, "/cycles/"+created.ID.String(), "").Code)
	assert.Equal(t, http.StatusNotFound, serve(voter, http.MethodGet, "/cycles/"+created.ID.String(), "").Code)
	assert.Equal(t, http.StatusOK, serve(voter, http.MethodGet, "/cycles", "").Code)
}
