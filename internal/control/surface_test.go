package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"sessionlock/internal/events"
	"sessionlock/internal/lock"
	"sessionlock/internal/tracker"
	"sessionlock/pkg/errclass"
	"sessionlock/pkg/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func newSurface(t *testing.T, provider usage.Provider) (*Surface, *testingclock.FakeClock) {
	t.Helper()
	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	sampler := usage.NewSampler(provider, fc)
	ch := events.NewChannel()
	w := tracker.NewWatcher(sampler, ch, fc)
	lc := lock.NewController(fc, nil, lock.WithAllowDismiss(false))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		w.Stop()
		lc.HideLock()
		cancel()
	})
	return New(ctx, sampler, ch, w, lc, 10*time.Second), fc
}

func TestSurface_WatcherLifecycle(t *testing.T) {
	provider := usage.ProviderFunc(func(ctx context.Context, start, end time.Time) ([]usage.Record, error) {
		return []usage.Record{{ProcessID: "com.example.game", LastUsed: end}}, nil
	})
	s, _ := newSurface(t, provider)

	var mu sync.Mutex
	var got []string
	s.SubscribeChanges(func(ev events.ChangeEvent) {
		mu.Lock()
		got = append(got, ev.ProcessID)
		mu.Unlock()
	})

	assert.False(t, s.IsWatcherRunning())
	require.NoError(t, s.StartWatcher(500*time.Millisecond, 2*time.Second))
	assert.True(t, s.IsWatcherRunning())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "com.example.game", got[0])
	assert.Equal(t, "com.example.game", s.WatcherState().Current)

	assert.True(t, s.StopWatcher())
	assert.False(t, s.IsWatcherRunning())
	assert.False(t, s.StopWatcher())

	s.UnsubscribeChanges()
}

func TestSurface_LockLifecycle(t *testing.T) {
	s, _ := newSurface(t, usage.ProviderFunc(func(context.Context, time.Time, time.Time) ([]usage.Record, error) {
		return nil, nil
	}))

	_, ok := s.LockState()
	assert.False(t, ok)
	assert.False(t, s.HideLock())

	snap, err := s.ShowLock(90 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "running", snap.Status)
	assert.Equal(t, "01:30", snap.Text)

	assert.True(t, s.Back())
	assert.ErrorIs(t, s.Dismiss(), errclass.ErrDismissNotAllowed)

	cur, ok := s.LockState()
	require.True(t, ok)
	assert.Equal(t, snap.ID, cur.ID)
	assert.Equal(t, "running", cur.Status)

	assert.True(t, s.HideLock())
	cur, _ = s.LockState()
	assert.Equal(t, "cancelled", cur.Status)
}

func TestSurface_CurrentForeground(t *testing.T) {
	var gotWindow time.Duration
	provider := usage.ProviderFunc(func(ctx context.Context, start, end time.Time) ([]usage.Record, error) {
		gotWindow = end.Sub(start)
		return []usage.Record{
			{ProcessID: "mail", LastUsed: end.Add(-5 * time.Second)},
			{ProcessID: "browser", LastUsed: end.Add(-time.Second)},
		}, nil
	})
	s, _ := newSurface(t, provider)

	id, ok, err := s.CurrentForeground(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "browser", id)
	assert.Equal(t, 10*time.Second, gotWindow)
	assert.False(t, s.IsWatcherRunning())
}

func TestSurface_CurrentForegroundPermissionDenied(t *testing.T) {
	provider := usage.ProviderFunc(func(context.Context, time.Time, time.Time) ([]usage.Record, error) {
		return nil, errclass.ErrPermissionDenied
	})
	s, _ := newSurface(t, provider)

	_, ok, err := s.CurrentForeground(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, errclass.ErrPermissionDenied)
}
