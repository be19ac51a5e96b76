package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fanoutStub struct {
	subscribers map[string]int
	dropped     int64
}

func (f fanoutStub) Subscribers(channel string) int { return f.subscribers[channel] }
func (f fanoutStub) Dropped() int64                 { return f.dropped }

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/rounds/{id}/override")
	req := httptest.NewRequest(http.MethodPost, "/rounds/x/override", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `rushboard_http_requests_total{code="409",route="/rounds/{id}/override"} 1`)
	assert.Contains(t, body, `rushboard_http_request_duration_seconds_bucket{route="/rounds/{id}/override"`)
}

func TestWatchFanoutExportsHubState(t *testing.T) {
	metrics := NewMetrics()
	metrics.WatchFanout(fanoutStub{subscribers: map[string]int{"rounds": 3}, dropped: 7}, "rounds", "settings")

	body := scrape(t, metrics)
	assert.Contains(t, body, `rushboard_realtime_subscribers{channel="rounds"} 3`)
	assert.Contains(t, body, `rushboard_realtime_subscribers{channel="settings"} 0`)
	assert.Contains(t, body, `rushboard_realtime_dropped_events_total 7`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, metrics.Middleware(next))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
