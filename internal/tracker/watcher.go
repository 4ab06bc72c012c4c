// Package tracker polls the usage sampler and turns foreground samples into
// edge-triggered change events.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"sessionlock/internal/events"
	"sessionlock/internal/obs"
	"sessionlock/pkg/errclass"
	"sessionlock/pkg/usage"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Journal records what the watcher observed. Failures are logged and
// otherwise ignored.
type Journal interface {
	RecordChange(ev events.ChangeEvent) error
	RecordError(at time.Time, err error) error
}

// State describes the watcher for status endpoints.
type State struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
	Window   time.Duration `json:"window"`
	Current  string        `json:"current"`
}

// Watcher drives a Sampler on a fixed interval and publishes a ChangeEvent
// whenever the sampled foreground differs from the previous one.
//
// Events are published with the watcher's lock held; subscribers must not
// call back into the Watcher from their handler.
type Watcher struct {
	sampler *usage.Sampler
	channel *events.Channel
	clock   clock.WithTicker
	log     *logrus.Entry
	metrics *obs.Metrics
	journal Journal

	mu       sync.Mutex
	running  bool
	gen      uint64
	interval time.Duration
	window   time.Duration
	current  string
	failing  bool
	ticker   clock.Ticker
	stop     chan struct{}
	cancel   context.CancelFunc
}

// Option customizes a Watcher.
type Option func(*Watcher)

func WithLogger(l *logrus.Entry) Option {
	return func(w *Watcher) { w.log = l }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

func WithJournal(j Journal) Option {
	return func(w *Watcher) { w.journal = j }
}

// NewWatcher creates a stopped watcher publishing on ch.
func NewWatcher(sampler *usage.Sampler, ch *events.Channel, clk clock.WithTicker, opts ...Option) *Watcher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	w := &Watcher{
		sampler: sampler,
		channel: ch,
		clock:   clk,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = obs.Component(nil, "tracker")
	}
	return w
}

// Start begins polling every interval with the given lookback window. The
// first sample is taken immediately. Starting a running watcher restarts it
// with a cleared foreground, so the first sample after a restart always
// emits. The loop also ends when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, interval, window time.Duration) error {
	if interval <= 0 {
		return errclass.ErrInvalidArgument.WithMessagef("poll interval must be positive, got %v", interval)
	}
	if window <= 0 {
		return errclass.ErrInvalidArgument.WithMessagef("window must be positive, got %v", window)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		w.log.Info("Restarting watcher")
		w.stopLocked()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.gen++
	w.running = true
	w.interval = interval
	w.window = window
	w.current = ""
	w.failing = false
	w.ticker = w.clock.NewTicker(interval)
	w.stop = make(chan struct{})
	w.cancel = cancel

	w.log.WithFields(logrus.Fields{
		"interval": interval,
		"window":   window,
	}).Info("Starting watcher")
	w.metrics.SetWatcherRunning(true)

	go w.run(loopCtx, w.gen, window, w.ticker, w.stop)
	return nil
}

// Stop halts polling and clears the tracked foreground. No event is
// published after Stop returns. It reports whether the watcher was running.
func (w *Watcher) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return false
	}
	w.stopLocked()
	w.log.Info("Watcher stopped")
	return true
}

func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Current returns the last published foreground identifier.
func (w *Watcher) Current() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, w.running && w.current != ""
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := State{Running: w.running, Current: w.current}
	if w.running {
		st.Interval = w.interval
		st.Window = w.window
	}
	return st
}

func (w *Watcher) stopLocked() {
	w.running = false
	w.current = ""
	w.failing = false
	w.ticker.Stop()
	close(w.stop)
	w.cancel()
	w.metrics.SetWatcherRunning(false)
}

func (w *Watcher) run(ctx context.Context, gen uint64, window time.Duration, t clock.Ticker, stop <-chan struct{}) {
	w.poll(ctx, gen, window)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			w.expire(gen)
			return
		case <-t.C():
			w.poll(ctx, gen, window)
		}
	}
}

// expire marks the watcher stopped when its parent context ends.
func (w *Watcher) expire(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.gen != gen {
		return
	}
	w.stopLocked()
	w.log.Info("Watcher stopped by context")
}

func (w *Watcher) poll(ctx context.Context, gen uint64, window time.Duration) {
	began := w.clock.Now()
	id, ok, err := w.sampler.Sample(ctx, window)
	took := w.clock.Since(began)

	w.mu.Lock()
	if !w.running || w.gen != gen {
		w.mu.Unlock()
		return
	}

	result := "ok"
	switch {
	case err != nil:
		result = failureResult(err)
		id = ""
		if !w.failing {
			w.failing = true
			w.log.WithError(err).Warn("Foreground sample failed, treating as unknown")
		} else {
			w.log.WithError(err).Debug("Foreground sample still failing")
		}
	case !ok:
		result = "none"
		id = ""
	}
	if err == nil && w.failing {
		w.failing = false
		w.log.Info("Foreground sampling recovered")
	}
	w.metrics.ObserveSample(result, took)

	var ev *events.ChangeEvent
	if id != w.current {
		w.current = id
		ev = &events.ChangeEvent{ProcessID: id, DetectedAt: w.clock.Now()}
		w.channel.Publish(*ev)
		w.metrics.ObserveChange()
		w.log.WithField("app", id).Info("Foreground changed")
	}
	w.mu.Unlock()

	w.record(ev, began, err)
}

func (w *Watcher) record(ev *events.ChangeEvent, at time.Time, sampleErr error) {
	if w.journal == nil {
		return
	}
	if sampleErr != nil {
		if err := w.journal.RecordError(at, sampleErr); err != nil {
			w.log.WithError(err).Warn("Failed to journal sample error")
		}
	}
	if ev != nil {
		if err := w.journal.RecordChange(*ev); err != nil {
			w.log.WithError(err).Warn("Failed to journal foreground change")
		}
	}
}

func failureResult(err error) string {
	if errors.Is(err, errclass.ErrPermissionDenied) {
		return "permission_denied"
	}
	return "unavailable"
}
