package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/annel0/starfleet/internal/config"
	"github.com/annel0/starfleet/internal/engine"
	"github.com/annel0/starfleet/internal/eventbus"
	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/geom"
	"github.com/annel0/starfleet/internal/logging"
	"github.com/annel0/starfleet/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type testServer struct {
	rs     *RestServer
	engine *engine.Engine
	store  *storage.MemoryStore
	bus    eventbus.EventBus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g, err := galaxy.New(galaxy.Config{
		Bounds:       geom.R(0, 0, 1000, 1000),
		SystemBounds: geom.R(0, 0, 100, 100),
		MaxDepth:     8,
		BucketSize:   2,
	})
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	bus := eventbus.NewMemoryBus(16)
	t.Cleanup(func() { _ = bus.Close() })

	eng := engine.New(g, nil, engine.WithStore(store, "api-test"), engine.WithEventBus(bus))
	log, err := logging.NewLoggerWithOptions("api-test", logging.Options{Console: &bytes.Buffer{}})
	require.NoError(t, err)

	rs := NewRestServer(Config{Engine: eng, Bus: bus, Logger: log})
	return &testServer{rs: rs, engine: eng, store: store, bus: bus}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.rs.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestSystems(t *testing.T) {
	ts := newTestServer(t)

	var added []string
	_, err := ts.bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.EventSystemAdded}},
		func(_ context.Context, ev *eventbus.Envelope) {
			var p eventbus.SystemAddedEvent
			if ev.Decode(&p) == nil {
				added = append(added, p.Name)
			}
		})
	require.NoError(t, err)

	testCases := []struct {
		name string
		body any
		want int
	}{
		{"Sol", map[string]any{"name": "Sol", "x": 0, "y": 0}, http.StatusCreated},
		{"Vega", map[string]any{"name": "Vega", "x": 100, "y": 100}, http.StatusCreated},
		{"Rigel", map[string]any{"name": "Rigel", "x": 900, "y": 900}, http.StatusCreated},
		{"дубликат", map[string]any{"name": "Sol", "x": 5, "y": 5}, http.StatusConflict},
		{"вне границ", map[string]any{"name": "Far", "x": 5000, "y": 5}, http.StatusUnprocessableEntity},
		{"без координат", map[string]any{"name": "Nowhere"}, http.StatusBadRequest},
		{"без имени", map[string]any{"x": 1, "y": 1}, http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/systems", tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}

	w := ts.do(t, http.MethodGet, "/api/systems", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]SystemInfo](t, w)
	require.Len(t, list.Data, 3)
	assert.Equal(t, "Sol", list.Data[0].Name)

	w = ts.do(t, http.MethodGet, "/api/systems/near?x=50&y=50&r=80", nil)
	require.Equal(t, http.StatusOK, w.Code)
	near := decode[[]SystemInfo](t, w)
	require.Len(t, near.Data, 2)
	assert.Equal(t, "Sol", near.Data[0].Name)
	assert.Equal(t, "Vega", near.Data[1].Name)

	w = ts.do(t, http.MethodGet, "/api/systems/near?x=50&y=50", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, ts.bus.Close())
	assert.Equal(t, []string{"Sol", "Vega", "Rigel"}, added)
}

func TestEntities(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/systems", map[string]any{"name": "Sol", "x": 1, "y": 1}).Code)

	w := ts.do(t, http.MethodPost, "/api/systems/Sol/entities", map[string]any{"id": "probe-1", "x": 10, "y": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = ts.do(t, http.MethodPost, "/api/systems/Sol/entities", map[string]any{"x": 90, "y": 90})
	require.Equal(t, http.StatusCreated, w.Code)
	spawned := decode[galaxy.Entity](t, w)
	assert.NotEmpty(t, spawned.Data.ID)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/systems/Nope/entities", map[string]any{"x": 1, "y": 1}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, "/api/systems/Sol/entities", map[string]any{"x": 500, "y": 1}).Code)

	w = ts.do(t, http.MethodGet, "/api/systems/Sol/entities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[[]galaxy.Entity](t, w)
	require.Len(t, all.Data, 2)
	assert.Equal(t, galaxy.EntityID("probe-1"), all.Data[0].ID)

	w = ts.do(t, http.MethodGet, "/api/systems/Sol/entities?x=0&y=0&r=20", nil)
	require.Equal(t, http.StatusOK, w.Code)
	near := decode[[]galaxy.Entity](t, w)
	require.Len(t, near.Data, 1)
	assert.Equal(t, geom.Pt(10, 10), near.Data[0].Position)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/systems/Nope/entities", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/systems/Sol/entities?x=a&y=0&r=1", nil).Code)
}

func TestSnapshotEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/snapshot/load", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "Снимка ещё нет")

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/systems", map[string]any{"name": "Sol", "x": 1, "y": 1}).Code)
	w = ts.do(t, http.MethodPost, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decode[eventbus.SnapshotEvent](t, w)
	assert.Equal(t, "api-test", saved.Data.Key)
	assert.Equal(t, 1, saved.Data.Systems)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/systems", map[string]any{"name": "Vega", "x": 2, "y": 2}).Code)
	w = ts.do(t, http.MethodPost, "/api/snapshot/load", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, ts.engine.Galaxy().Len())

	w = ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[StatsResponse](t, w)
	assert.Equal(t, 1, stats.Data.Galaxy.Systems)
	assert.NotEmpty(t, stats.Data.Process.Uptime)
	assert.Positive(t, stats.Data.Process.Goroutines)
}

func TestSnapshotWithoutStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g, err := galaxy.New(galaxy.Config{Bounds: geom.R(0, 0, 10, 10), SystemBounds: geom.R(0, 0, 1, 1), MaxDepth: 4, BucketSize: 1})
	require.NoError(t, err)
	rs := NewRestServer(Config{Engine: engine.New(g, nil)})

	w := httptest.NewRecorder()
	rs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	rs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "starfleet_api_http_request_duration_seconds"))
}

func TestWebhooksEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]WebhookStatus](t, w).Data)

	ts.rs.webhooks = NewWebhookForwarder("test", []config.WebhookConfig{{Name: "ops", URL: "http://ops.local", Secret: "s3cret"}})
	w = ts.do(t, http.MethodGet, "/api/webhooks", nil)
	list := decode[[]WebhookStatus](t, w)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "ops", list.Data[0].Name)
	assert.NotContains(t, w.Body.String(), "s3cret")
}

func TestNewServerIntegration_Validation(t *testing.T) {
	_, err := NewServerIntegration(IntegrationConfig{})
	assert.Error(t, err)

	g, err := galaxy.New(galaxy.Config{Bounds: geom.R(0, 0, 10, 10), SystemBounds: geom.R(0, 0, 1, 1), MaxDepth: 4, BucketSize: 1})
	require.NoError(t, err)
	_, err = NewServerIntegration(IntegrationConfig{
		Engine: engine.New(g, nil),
		Server: config.ServerConfig{Webhooks: []config.WebhookConfig{{URL: "http://ops.local"}}},
	})
	assert.ErrorContains(t, err, "event bus")
}
