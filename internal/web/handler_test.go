package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sessionlock/internal/config"
	"sessionlock/internal/control"
	"sessionlock/internal/events"
	"sessionlock/internal/lock"
	"sessionlock/internal/obs"
	"sessionlock/internal/tracker"
	"sessionlock/pkg/errclass"
	"sessionlock/pkg/presentation"
	"sessionlock/pkg/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type fixture struct {
	handler *Handler
	mux     *http.ServeMux
	surface *control.Surface
	overlay *presentation.Overlay
	channel *events.Channel
	clock   *testingclock.FakeClock
}

func newFixture(t *testing.T, provider usage.Provider, allowDismiss bool) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Lock.AllowDismiss = allowDismiss

	fc := testingclock.NewFakeClock(time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC))
	metrics := obs.NewMetrics()
	overlay := presentation.NewOverlay(cfg.Lock.Message)
	sampler := usage.NewSampler(provider, fc)
	ch := events.NewChannel()
	w := tracker.NewWatcher(sampler, ch, fc, tracker.WithMetrics(metrics))
	lc := lock.NewController(fc, overlay, lock.WithMetrics(metrics), lock.WithAllowDismiss(allowDismiss))

	ctx, cancel := context.WithCancel(context.Background())
	surface := control.New(ctx, sampler, ch, w, lc, cfg.Tracker.QueryWindow)
	t.Cleanup(func() {
		w.Stop()
		lc.HideLock()
		cancel()
	})

	h := NewHandler(cfg, surface, nil, overlay, metrics)
	mux := http.NewServeMux()
	h.SetupRoutes(mux)

	return &fixture{handler: h, mux: mux, surface: surface, overlay: overlay, channel: ch, clock: fc}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func staticProvider(id string) usage.Provider {
	return usage.ProviderFunc(func(ctx context.Context, start, end time.Time) ([]usage.Record, error) {
		if id == "" {
			return nil, nil
		}
		return []usage.Record{{ProcessID: id, LastUsed: end}}, nil
	})
}

func TestHandler_Health(t *testing.T) {
	f := newFixture(t, staticProvider(""), true)

	rec := f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestHandler_LockLifecycle(t *testing.T) {
	f := newFixture(t, staticProvider(""), true)

	rec := f.do(t, http.MethodPost, "/api/lock?ms=5000")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "00:05", body["text"])

	st := f.overlay.State()
	assert.True(t, st.Visible)
	assert.Equal(t, "00:05", st.Text)

	rec = f.do(t, http.MethodGet, "/api/lock")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decode(t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/api/lock/back")
	assert.Equal(t, true, decode(t, rec)["suppressed"])

	rec = f.do(t, http.MethodDelete, "/api/lock")
	assert.Equal(t, true, decode(t, rec)["hidden"])
	assert.False(t, f.overlay.State().Visible)

	rec = f.do(t, http.MethodDelete, "/api/lock")
	assert.Equal(t, false, decode(t, rec)["hidden"])

	rec = f.do(t, http.MethodPost, "/api/lock/back")
	assert.Equal(t, false, decode(t, rec)["suppressed"])
}

func TestHandler_LockInvalidDuration(t *testing.T) {
	f := newFixture(t, staticProvider(""), true)

	rec := f.do(t, http.MethodPost, "/api/lock?ms=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errclass.ErrInvalidArgument.Code, decode(t, rec)["code"])

	rec = f.do(t, http.MethodPost, "/api/lock?ms=9223372036854775")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errclass.ErrInvalidArgument.Code, decode(t, rec)["code"])
	assert.False(t, f.overlay.State().Visible)

	rec = f.do(t, http.MethodGet, "/api/lock")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/lock")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_Dismiss(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		f := newFixture(t, staticProvider(""), true)
		f.do(t, http.MethodPost, "/api/lock?ms=60000")

		rec := f.do(t, http.MethodPost, "/api/lock/dismiss")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, f.overlay.State().Visible)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, staticProvider(""), false)
		f.do(t, http.MethodPost, "/api/lock?ms=60000")

		rec := f.do(t, http.MethodPost, "/api/lock/dismiss")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, errclass.ErrDismissNotAllowed.Code, decode(t, rec)["code"])
		assert.True(t, f.overlay.State().Visible)
	})
}

func TestHandler_Overlay(t *testing.T) {
	f := newFixture(t, staticProvider(""), true)

	req := httptest.NewRequest(http.MethodGet, "/api/lock/overlay", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "No break running")

	f.do(t, http.MethodPost, "/api/lock?ms=65000")

	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "01:05")
	assert.Contains(t, rec.Body.String(), "Break in progress")

	rec = f.do(t, http.MethodGet, "/api/lock/overlay")
	assert.Equal(t, true, decode(t, rec)["visible"])
}

func TestHandler_Watcher(t *testing.T) {
	f := newFixture(t, staticProvider("org.example.browser"), true)

	rec := f.do(t, http.MethodPost, "/api/watcher/start?interval_ms=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/watcher/start?interval_ms=1000&window_ms=3000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1000, decode(t, rec)["interval_ms"])

	require.Eventually(t, func() bool {
		return f.surface.WatcherState().Current == "org.example.browser"
	}, time.Second, time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/status")
	watcher := decode(t, rec)["watcher"].(map[string]interface{})
	assert.Equal(t, true, watcher["running"])
	assert.EqualValues(t, 3000, watcher["window_ms"])
	assert.Equal(t, "org.example.browser", watcher["current"])

	rec = f.do(t, http.MethodPost, "/api/watcher/stop")
	assert.Equal(t, true, decode(t, rec)["stopped"])
	rec = f.do(t, http.MethodPost, "/api/watcher/stop")
	assert.Equal(t, false, decode(t, rec)["stopped"])
}

func TestHandler_Foreground(t *testing.T) {
	f := newFixture(t, staticProvider("org.example.editor"), true)

	rec := f.do(t, http.MethodGet, "/api/foreground")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "org.example.editor", body["process_id"])
	assert.Equal(t, true, body["found"])

	denied := newFixture(t, usage.ProviderFunc(func(context.Context, time.Time, time.Time) ([]usage.Record, error) {
		return nil, errclass.ErrPermissionDenied.WithMessage("usage access revoked")
	}), true)
	rec = denied.do(t, http.MethodGet, "/api/foreground")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errclass.ErrPermissionDenied.Code, decode(t, rec)["code"])
}

func TestHandler_ReportUnavailable(t *testing.T) {
	f := newFixture(t, staticProvider(""), true)

	rec := f.do(t, http.MethodGet, "/api/report")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_Metrics(t *testing.T) {
	f := newFixture(t, staticProvider(""), true)
	f.do(t, http.MethodPost, "/api/lock?ms=1000")

	rec := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sessionlock_lock_sessions_total{outcome="started"} 1`)
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func openStream(t *testing.T, srv *httptest.Server) (*http.Response, *bufio.Reader) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)
	return resp, r
}

func TestHandler_EventStream(t *testing.T) {
	f := newFixture(t, staticProvider(""), true)
	f.surface.SubscribeChanges(f.handler.Forward)

	srv := httptest.NewServer(f.mux)
	defer srv.Close()
	defer f.handler.closeStream()

	_, r := openStream(t, srv)

	at := time.Date(2026, 5, 4, 14, 0, 1, 0, time.UTC)
	assert.True(t, f.channel.Publish(events.ChangeEvent{ProcessID: "org.example.game", DetectedAt: at}))

	var ev events.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, r)), &ev))
	assert.Equal(t, "org.example.game", ev.ProcessID)
	assert.True(t, ev.DetectedAt.Equal(at))
}

func TestHandler_NewStreamReplacesOld(t *testing.T) {
	f := newFixture(t, staticProvider(""), true)
	f.surface.SubscribeChanges(f.handler.Forward)

	srv := httptest.NewServer(f.mux)
	defer srv.Close()
	defer f.handler.closeStream()

	_, first := openStream(t, srv)
	_, second := openStream(t, srv)

	// The first stream is closed by the server once replaced.
	var closed atomic.Bool
	go func() {
		for {
			if _, err := first.ReadString('\n'); err != nil {
				closed.Store(true)
				return
			}
		}
	}()
	require.Eventually(t, closed.Load, 2*time.Second, 10*time.Millisecond)

	f.channel.Publish(events.ChangeEvent{ProcessID: "org.example.mail"})
	assert.Contains(t, readEvent(t, second), "org.example.mail")
}
