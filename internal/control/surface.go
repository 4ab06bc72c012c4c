// Package control is the entry point an orchestrating layer (HTTP API,
// CLI, policy) uses to drive foreground watching and lock sessions.
package control

import (
	"context"
	"time"

	"sessionlock/internal/events"
	"sessionlock/internal/lock"
	"sessionlock/internal/tracker"
	"sessionlock/pkg/usage"
)

// Surface bundles the watcher, the change channel and the lock controller.
type Surface struct {
	ctx         context.Context
	sampler     *usage.Sampler
	channel     *events.Channel
	watcher     *tracker.Watcher
	lock        *lock.Controller
	queryWindow time.Duration
}

// New creates a surface. Watcher loops started through it end when ctx is
// cancelled. queryWindow is the lookback used by CurrentForeground.
func New(ctx context.Context, sampler *usage.Sampler, ch *events.Channel, w *tracker.Watcher, lc *lock.Controller, queryWindow time.Duration) *Surface {
	return &Surface{
		ctx:         ctx,
		sampler:     sampler,
		channel:     ch,
		watcher:     w,
		lock:        lc,
		queryWindow: queryWindow,
	}
}

func (s *Surface) StartWatcher(interval, window time.Duration) error {
	return s.watcher.Start(s.ctx, interval, window)
}

func (s *Surface) StopWatcher() bool {
	return s.watcher.Stop()
}

func (s *Surface) IsWatcherRunning() bool {
	return s.watcher.IsRunning()
}

func (s *Surface) WatcherState() tracker.State {
	return s.watcher.State()
}

// SubscribeChanges replaces the current change subscriber.
func (s *Surface) SubscribeChanges(h events.Handler) {
	s.channel.Subscribe(h)
}

func (s *Surface) UnsubscribeChanges() {
	s.channel.Unsubscribe()
}

// ShowLock starts a lock of length d, replacing any running one.
func (s *Surface) ShowLock(d time.Duration) (lock.Snapshot, error) {
	sess, err := s.lock.ShowLock(d)
	if err != nil {
		return lock.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (s *Surface) HideLock() bool {
	return s.lock.HideLock()
}

// Dismiss is the user close affordance; see lock.Controller.Dismiss.
func (s *Surface) Dismiss() error {
	return s.lock.Dismiss()
}

func (s *Surface) Back() bool {
	return s.lock.Back()
}

func (s *Surface) LockState() (lock.Snapshot, bool) {
	return s.lock.Current()
}

// CurrentForeground samples once over the query window, independent of the
// watcher.
func (s *Surface) CurrentForeground(ctx context.Context) (string, bool, error) {
	return s.sampler.Sample(ctx, s.queryWindow)
}
