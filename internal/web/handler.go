package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sessionlock/internal/config"
	"sessionlock/internal/control"
	"sessionlock/internal/events"
	"sessionlock/internal/obs"
	"sessionlock/internal/reporter"
	"sessionlock/pkg/errclass"
	"sessionlock/pkg/presentation"
)

// streamBuffer bounds how far a slow event stream may lag before events
// are dropped for it.
const streamBuffer = 16

type Handler struct {
	config   *config.Config
	surface  *control.Surface
	reporter *reporter.Reporter
	overlay  *presentation.Overlay
	metrics  *obs.Metrics
	log      *logrus.Entry

	streamMu sync.Mutex
	stream   *eventStream
}

type eventStream struct {
	events chan events.ChangeEvent
	done   chan struct{}
}

// NewHandler wires the HTTP API to the control surface. reporter, overlay
// and metrics may be nil; their endpoints then answer 503.
func NewHandler(cfg *config.Config, surface *control.Surface, rep *reporter.Reporter, overlay *presentation.Overlay, metrics *obs.Metrics) *Handler {
	return &Handler{
		config:   cfg,
		surface:  surface,
		reporter: rep,
		overlay:  overlay,
		metrics:  metrics,
		log:      obs.Component(nil, "web"),
	}
}

func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/foreground", h.handleForeground)
	mux.HandleFunc("/api/watcher/start", h.handleWatcherStart)
	mux.HandleFunc("/api/watcher/stop", h.handleWatcherStop)
	mux.HandleFunc("/api/lock", h.handleLock)
	mux.HandleFunc("/api/lock/dismiss", h.handleDismiss)
	mux.HandleFunc("/api/lock/back", h.handleBack)
	mux.HandleFunc("/api/lock/overlay", h.handleOverlay)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/report", h.handleReport)

	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}

	mux.HandleFunc("/health", h.handleHealth)

	mux.HandleFunc("/", h.handleIndex)
}

// Forward hands a change event to the open event stream, if any. It never
// blocks; a stream that falls behind loses events.
func (h *Handler) Forward(ev events.ChangeEvent) {
	h.streamMu.Lock()
	s := h.stream
	h.streamMu.Unlock()

	if s == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		h.log.WithField("process_id", ev.ProcessID).Warn("Event stream is behind, dropping change")
	}
}

func (h *Handler) openStream() *eventStream {
	s := &eventStream{
		events: make(chan events.ChangeEvent, streamBuffer),
		done:   make(chan struct{}),
	}
	h.streamMu.Lock()
	if h.stream != nil {
		close(h.stream.done)
	}
	h.stream = s
	h.streamMu.Unlock()
	return s
}

func (h *Handler) releaseStream(s *eventStream) {
	h.streamMu.Lock()
	if h.stream == s {
		h.stream = nil
	}
	h.streamMu.Unlock()
}

func (h *Handler) closeStream() {
	h.streamMu.Lock()
	if h.stream != nil {
		close(h.stream.done)
		h.stream = nil
	}
	h.streamMu.Unlock()
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ws := h.surface.WatcherState()
	status := map[string]interface{}{
		"watcher": map[string]interface{}{
			"running":     ws.Running,
			"interval_ms": ws.Interval.Milliseconds(),
			"window_ms":   ws.Window.Milliseconds(),
			"current":     ws.Current,
		},
		"allow_dismiss": h.config.Lock.AllowDismiss,
	}

	if snap, ok := h.surface.LockState(); ok {
		status["lock"] = snap
	}
	if h.overlay != nil {
		status["overlay"] = h.overlay.State()
	}

	respondJSON(w, status)
}

func (h *Handler) handleForeground(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok, err := h.surface.CurrentForeground(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, map[string]interface{}{
		"process_id": id,
		"found":      ok,
	})
}

func (h *Handler) handleWatcherStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	interval, err := durationParam(r, "interval_ms", h.config.Tracker.PollInterval)
	if err != nil {
		respondError(w, err)
		return
	}
	window, err := durationParam(r, "window_ms", h.config.Tracker.Window)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.surface.StartWatcher(interval, window); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, map[string]interface{}{
		"running":     true,
		"interval_ms": interval.Milliseconds(),
		"window_ms":   window.Milliseconds(),
	})
}

func (h *Handler) handleWatcherStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, map[string]bool{"stopped": h.surface.StopWatcher()})
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		d, err := durationParam(r, "ms", h.config.Policy.BreakDuration)
		if err != nil {
			respondError(w, err)
			return
		}
		snap, err := h.surface.ShowLock(d)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSONStatus(w, http.StatusCreated, snap)

	case http.MethodDelete:
		respondJSON(w, map[string]bool{"hidden": h.surface.HideLock()})

	case http.MethodGet:
		snap, ok := h.surface.LockState()
		if !ok {
			http.Error(w, "No lock session", http.StatusNotFound)
			return
		}
		respondJSON(w, snap)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.surface.Dismiss(); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"dismissed": true})
}

func (h *Handler) handleBack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, map[string]bool{"suppressed": h.surface.Back()})
}

func (h *Handler) handleOverlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.overlay == nil {
		http.Error(w, "Overlay not available", http.StatusServiceUnavailable)
		return
	}

	st := h.overlay.State()
	if r.Header.Get("HX-Request") != "true" {
		respondJSON(w, st)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !st.Visible {
		w.Write([]byte(`<div class="idle">No break running</div>`))
		return
	}
	fmt.Fprintf(w, `<div class="overlay"><div class="message">%s</div><div class="countdown">%s</div></div>`,
		html.EscapeString(st.Message), html.EscapeString(st.Text))
}

// handleEvents streams change events as server-sent events. Opening a new
// stream ends the previous one.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	s := h.openStream()
	defer h.releaseStream(s)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case ev := <-s.events:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.WithError(err).Error("Failed to encode change event")
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.reporter == nil {
		http.Error(w, "Reports not available", http.StatusServiceUnavailable)
		return
	}

	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}

	report, err := h.reporter.GenerateReport(periodType)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to generate report: %v", err), http.StatusBadRequest)
		return
	}

	respondJSON(w, report)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

const maxDurationMs = math.MaxInt64 / int64(time.Millisecond)

// durationParam reads a millisecond query parameter, falling back to def.
func durationParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errclass.ErrInvalidArgument.WithMessagef("%s must be an integer, got %q", name, raw)
	}
	if ms > maxDurationMs || ms < -maxDurationMs {
		return 0, errclass.ErrInvalidArgument.WithMessagef("%s is out of range: %d", name, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// statusFor maps error classes onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errclass.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errclass.ErrPermissionDenied), errors.Is(err, errclass.ErrDismissNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, errclass.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, errclass.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  errclass.Code(err),
	})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Session Lock</title>
    <script src="https://unpkg.com/htmx.org@1.9.10"></script>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #1a1a1a;
            color: #e0e0e0;
            display: flex;
            align-items: center;
            justify-content: center;
            min-height: 100vh;
            margin: 0;
        }
        .overlay, .idle {
            text-align: center;
        }
        .message {
            font-size: 1.5rem;
            color: #a0a0a0;
            margin-bottom: 20px;
        }
        .countdown {
            font-size: 6rem;
            font-weight: 600;
            color: #5dade2;
            font-variant-numeric: tabular-nums;
        }
        .idle {
            color: #7f8c8d;
            font-style: italic;
        }
    </style>
</head>
<body>
    <div hx-get="/api/lock/overlay" hx-trigger="load, every 1s" hx-swap="innerHTML">
        <div class="idle">Loading...</div>
    </div>
</body>
</html>`
