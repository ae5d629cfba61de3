package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spork/internal/config"
	"github.com/mattjoyce/spork/internal/dispatch"
	"github.com/mattjoyce/spork/internal/events"
	"github.com/mattjoyce/spork/internal/ledger"
	"github.com/mattjoyce/spork/internal/metrics"
	"github.com/mattjoyce/spork/internal/protocol"
	"github.com/mattjoyce/spork/internal/spork"
)

// fakeDispatcher records hints and returns a canned result.
type fakeDispatcher struct {
	mu    sync.Mutex
	hints []spork.Hints
	res   spork.Result
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, h spork.Hints) (spork.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hints = append(f.hints, h)
	return f.res, f.err
}

// fakeHistory serves fixed ledger data.
type fakeHistory struct {
	summary metrics.Snapshot
	entries []ledger.Entry
	since   time.Time
	limit   int
	err     error
}

func (f *fakeHistory) Summary(_ context.Context, since time.Time) (metrics.Snapshot, error) {
	f.since = since
	return f.summary, f.err
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]ledger.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestServer(cfg Config, d Dispatcher, opts ...Option) (*Server, *metrics.Stats, *events.Hub) {
	stats := metrics.NewStats()
	hub := events.NewHub(16)
	return New(cfg, d, stats, hub, testLogger(), opts...), stats, hub
}

func do(t *testing.T, s *Server, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, stats, _ := newTestServer(Config{}, &fakeDispatcher{})
	stats.ObserveDispatch(spork.Event{Strategy: spork.DirectSpawn})

	rec := do(t, s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.EqualValues(t, 1, resp.Dispatches)
	assert.False(t, resp.Ledger)
	assert.False(t, resp.RemoteEnabled)
}

func TestStats(t *testing.T) {
	hist := &fakeHistory{summary: metrics.Snapshot{Total: 9, PrimedSpawn: 9}}
	s, stats, _ := newTestServer(Config{}, &fakeDispatcher{}, WithHistory(hist))
	stats.ObserveDispatch(spork.Event{Strategy: spork.FullDuplication, Duration: time.Millisecond})

	rec := do(t, s, http.MethodGet, "/stats?since=1h", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.EqualValues(t, 1, resp.Live.FullDuplication)
	require.NotNil(t, resp.Ledger)
	assert.EqualValues(t, 9, resp.Ledger.PrimedSpawn)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), hist.since, time.Minute)

	rec = do(t, s, http.MethodGet, "/stats?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsWithoutLedger(t *testing.T) {
	s, _, _ := newTestServer(Config{}, &fakeDispatcher{})

	rec := do(t, s, http.MethodGet, "/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"ledger"`)
}

func TestDispatches(t *testing.T) {
	hist := &fakeHistory{entries: []ledger.Entry{{ID: "a", Strategy: "primed-spawn"}}}
	s, _, _ := newTestServer(Config{}, &fakeDispatcher{}, WithHistory(hist))

	rec := do(t, s, http.MethodGet, "/dispatches?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DispatchesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Dispatches, 1)
	assert.Equal(t, "a", resp.Dispatches[0].ID)
	assert.Equal(t, 5, hist.limit)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/dispatches?limit=0", "", nil).Code)

	hist.err = errors.New("disk gone")
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/dispatches", "", nil).Code)
}

func TestDispatchesWithoutLedger(t *testing.T) {
	s, _, _ := newTestServer(Config{}, &fakeDispatcher{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/dispatches", "", nil).Code)
}

func TestDispatchAuth(t *testing.T) {
	body := DispatchRequest{Path: "/bin/true"}

	s, _, _ := newTestServer(Config{}, &fakeDispatcher{})
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/dispatch", "secret", body).Code)

	s, _, _ = newTestServer(Config{Token: "secret"}, &fakeDispatcher{})
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodPost, "/dispatch", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodPost, "/dispatch", "wrong", body).Code)
}

func TestDispatchRequest(t *testing.T) {
	d := &fakeDispatcher{res: spork.Result{PID: 321, Strategy: spork.PrimedSpawn}}
	reaped := make(chan int, 1)
	s, _, hub := newTestServer(Config{Token: "secret"}, d, WithReaper(func(pid int) (int, error) {
		reaped <- pid
		return 3, nil
	}))
	sub, cancel := hub.Subscribe()
	defer cancel()

	rec := do(t, s, http.MethodPost, "/dispatch", "secret", DispatchRequest{
		Path:    "/bin/true",
		Argv:    []string{"true"},
		Changes: []protocol.StateChange{protocol.CloseFD(1), protocol.SetEnv("A", "b")},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp DispatchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, DispatchResponse{PID: 321, Strategy: "primed-spawn"}, resp)

	require.Len(t, d.hints, 1)
	h := d.hints[0]
	assert.Equal(t, spork.ForkExec, h.Pattern)
	assert.Equal(t, "/bin/true", h.Target.Path)
	assert.Equal(t, []protocol.StateChange{protocol.CloseFD(1), protocol.SetEnv("A", "b")}, h.Changes)

	select {
	case pid := <-reaped:
		assert.Equal(t, 321, pid)
	case <-time.After(5 * time.Second):
		t.Fatal("child was not reaped")
	}
	select {
	case ev := <-sub:
		assert.Equal(t, events.TypeProcessExited, ev.Type)
		assert.JSONEq(t, `{"pid":321,"exit_code":3}`, string(ev.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event")
	}
}

func TestDispatchRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{`},
		{name: "unknown field", body: `{"path":"/bin/true","bogus":1}`},
		{name: "missing path", body: `{"argv":["x"]}`},
		{name: "bad pattern", body: `{"path":"/bin/true","pattern":"sideways"}`},
		{name: "bad action", body: `{"path":"/bin/true","changes":[{"action":"explode"}]}`},
	}

	d := &fakeDispatcher{}
	s, _, _ := newTestServer(Config{Token: "secret"}, d)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer secret")
			rec := httptest.NewRecorder()
			s.setupRoutes().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, d.hints)
}

func TestDispatchErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{spork.Errorf(spork.KindInvalidContext, "bad"), http.StatusBadRequest, "invalid_context"},
		{spork.Errorf(spork.KindResourceExhausted, "too many"), http.StatusBadRequest, "resource_exhausted"},
		{spork.SpawnFailed(os.ErrNotExist), http.StatusBadGateway, "spawn_failed"},
		{spork.Errorf(spork.KindTransportUnavailable, "full"), http.StatusInternalServerError, "transport_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			s, _, _ := newTestServer(Config{Token: "secret"}, &fakeDispatcher{res: spork.Result{PID: -1}, err: tt.err})
			rec := do(t, s, http.MethodPost, "/dispatch", "secret", DispatchRequest{Path: "/bin/true"})
			assert.Equal(t, tt.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}
}

func TestOpenAPI(t *testing.T) {
	s, _, _ := newTestServer(Config{}, &fakeDispatcher{})
	rec := do(t, s, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/dispatch")
	assert.Contains(t, paths, "/events")
}

func TestDispatchEndToEnd(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	stats := metrics.NewStats()
	hub := events.NewHub(16)
	d := dispatch.NewNative(config.Defaults().Dispatcher, nil, testLogger(),
		dispatch.WithObserver(stats, events.NewDispatchObserver(hub)))
	s := New(Config{Token: "secret"}, d, stats, hub, testLogger())
	sub, cancel := hub.Subscribe()
	defer cancel()

	rec := do(t, s, http.MethodPost, "/dispatch", "secret", DispatchRequest{
		Path: "/bin/sh",
		Argv: []string{"sh", "-c", "exit 4"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var types []string
	deadline := time.After(10 * time.Second)
	for len(types) < 2 {
		select {
		case ev := <-sub:
			types = append(types, ev.Type)
			if ev.Type == events.TypeProcessExited {
				assert.Contains(t, string(ev.Data), `"exit_code":4`)
			}
		case <-deadline:
			t.Fatalf("timed out, saw %v", types)
		}
	}
	assert.Equal(t, []string{events.TypeDispatchCompleted, events.TypeProcessExited}, types)
	assert.EqualValues(t, 1, stats.Snapshot().DirectSpawn)
}
