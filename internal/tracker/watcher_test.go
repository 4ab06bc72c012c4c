package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"sessionlock/internal/events"
	"sessionlock/internal/obs"
	"sessionlock/pkg/errclass"
	"sessionlock/pkg/usage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

const testInterval = 500 * time.Millisecond

// step is one scripted provider answer: an app id ("" for no records) or
// an error.
type step struct {
	id  string
	err error
}

type ScriptedProvider struct {
	mu     sync.Mutex
	steps  []step
	calls  int
	starts []time.Time
	ends   []time.Time
}

func (p *ScriptedProvider) Query(ctx context.Context, start, end time.Time) ([]usage.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.calls
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	p.calls++
	p.starts = append(p.starts, start)
	p.ends = append(p.ends, end)

	s := p.steps[i]
	if s.err != nil {
		return nil, s.err
	}
	if s.id == "" {
		return nil, nil
	}
	return []usage.Record{{ProcessID: s.id, LastUsed: end, Source: "script"}}, nil
}

func (p *ScriptedProvider) Name() string { return "script" }

func (p *ScriptedProvider) Close() error { return nil }

func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recorder struct {
	mu     sync.Mutex
	events []events.ChangeEvent
}

func (r *recorder) handle(ev events.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		ids = append(ids, ev.ProcessID)
	}
	return ids
}

type MockJournal struct {
	mu      sync.Mutex
	changes []events.ChangeEvent
	errs    []error
}

func (m *MockJournal) RecordChange(ev events.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, ev)
	return nil
}

func (m *MockJournal) RecordError(at time.Time, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return nil
}

func (m *MockJournal) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.changes), len(m.errs)
}

type fixture struct {
	clock    *testingclock.FakeClock
	provider *ScriptedProvider
	recorder *recorder
	watcher  *Watcher
}

func newFixture(t *testing.T, steps []step, opts ...Option) *fixture {
	t.Helper()
	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	p := &ScriptedProvider{steps: steps}
	rec := &recorder{}
	ch := events.NewChannel()
	ch.Subscribe(rec.handle)

	w := NewWatcher(usage.NewSampler(p, fc), ch, fc, opts...)
	t.Cleanup(func() { w.Stop() })
	return &fixture{clock: fc, provider: p, recorder: rec, watcher: w}
}

func (f *fixture) waitCalls(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.provider.Calls() >= n },
		time.Second, time.Millisecond, "expected %d provider calls", n)
}

func (f *fixture) waitEvents(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.recorder.IDs()) == n },
		time.Second, time.Millisecond, "expected %d events", n)
}

// advance waits for poll n to begin, then fires the next tick.
func (f *fixture) advance(t *testing.T, n int) {
	t.Helper()
	f.waitCalls(t, n)
	f.clock.Step(testInterval)
}

func TestWatcher_EmitsOnlyOnTransition(t *testing.T) {
	f := newFixture(t, []step{
		{id: "A"}, {id: "A"}, {id: "B"}, {id: "B"}, {id: ""}, {id: ""}, {id: "A"},
	})

	require.NoError(t, f.watcher.Start(context.Background(), testInterval, 2*time.Second))
	for n := 1; n < 7; n++ {
		f.advance(t, n)
	}
	f.waitEvents(t, 4)

	assert.Equal(t, []string{"A", "B", "", "A"}, f.recorder.IDs())
	assert.Equal(t, 7, f.provider.Calls())

	cur, ok := f.watcher.Current()
	assert.True(t, ok)
	assert.Equal(t, "A", cur)
}

func TestWatcher_EmptyResultPublishesNothing(t *testing.T) {
	f := newFixture(t, []step{{id: ""}})

	require.NoError(t, f.watcher.Start(context.Background(), testInterval, 2*time.Second))
	f.advance(t, 1)
	f.advance(t, 2)
	f.waitCalls(t, 3)

	assert.Empty(t, f.recorder.IDs())
	_, ok := f.watcher.Current()
	assert.False(t, ok)
	assert.True(t, f.watcher.IsRunning())
}

func TestWatcher_RestartResetsForeground(t *testing.T) {
	f := newFixture(t, []step{{id: "A"}})

	require.NoError(t, f.watcher.Start(context.Background(), testInterval, 2*time.Second))
	f.waitEvents(t, 1)

	assert.True(t, f.watcher.Stop())
	require.NoError(t, f.watcher.Start(context.Background(), testInterval, 2*time.Second))
	f.waitEvents(t, 2)

	// Restart without an explicit stop behaves the same.
	require.NoError(t, f.watcher.Start(context.Background(), testInterval, 2*time.Second))
	f.waitEvents(t, 3)

	assert.Equal(t, []string{"A", "A", "A"}, f.recorder.IDs())
}

func TestWatcher_ErrorsTreatedAsUnknown(t *testing.T) {
	j := &MockJournal{}
	m := obs.NewMetrics()
	f := newFixture(t, []step{
		{id: "A"},
		{err: errclass.ErrPermissionDenied.WithMessage("usage access revoked")},
		{err: errclass.ErrProviderUnavailable.WithMessage("bus gone")},
		{id: "B"},
	}, WithJournal(j), WithMetrics(m))

	require.NoError(t, f.watcher.Start(context.Background(), testInterval, 2*time.Second))
	for n := 1; n < 4; n++ {
		f.advance(t, n)
	}
	f.waitEvents(t, 3)

	assert.Equal(t, []string{"A", "", "B"}, f.recorder.IDs())
	assert.True(t, f.watcher.IsRunning())

	require.Eventually(t, func() bool {
		changes, errs := j.counts()
		return changes == 3 && errs == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SamplesTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SamplesTotal.WithLabelValues("permission_denied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SamplesTotal.WithLabelValues("unavailable")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ChangesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WatcherRunning))
}

func TestWatcher_StopHaltsPolling(t *testing.T) {
	m := obs.NewMetrics()
	f := newFixture(t, []step{{id: "A"}}, WithMetrics(m))

	require.NoError(t, f.watcher.Start(context.Background(), testInterval, 2*time.Second))
	f.waitEvents(t, 1)

	assert.True(t, f.watcher.Stop())
	assert.False(t, f.watcher.IsRunning())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.WatcherRunning))

	calls := f.provider.Calls()
	f.clock.Step(testInterval)
	f.clock.Step(testInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, f.provider.Calls())
	assert.Len(t, f.recorder.IDs(), 1)

	assert.False(t, f.watcher.Stop())
	_, ok := f.watcher.Current()
	assert.False(t, ok)
	assert.False(t, f.watcher.State().Running)
}

func TestWatcher_ContextCancelStops(t *testing.T) {
	f := newFixture(t, []step{{id: "A"}})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.watcher.Start(ctx, testInterval, 2*time.Second))
	f.waitEvents(t, 1)

	cancel()
	require.Eventually(t, func() bool { return !f.watcher.IsRunning() },
		time.Second, time.Millisecond)
}

func TestWatcher_InvalidArguments(t *testing.T) {
	f := newFixture(t, []step{{id: "A"}})

	err := f.watcher.Start(context.Background(), 0, time.Second)
	assert.ErrorIs(t, err, errclass.ErrInvalidArgument)

	err = f.watcher.Start(context.Background(), time.Second, -time.Second)
	assert.ErrorIs(t, err, errclass.ErrInvalidArgument)

	assert.False(t, f.watcher.IsRunning())
}

func TestWatcher_QueriesTrailingWindow(t *testing.T) {
	f := newFixture(t, []step{{id: "A"}})

	require.NoError(t, f.watcher.Start(context.Background(), testInterval, 2*time.Second))
	f.waitEvents(t, 1)

	st := f.watcher.State()
	assert.True(t, st.Running)
	assert.Equal(t, testInterval, st.Interval)
	assert.Equal(t, 2*time.Second, st.Window)
	assert.Equal(t, "A", st.Current)

	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	require.NotEmpty(t, f.provider.starts)
	assert.Equal(t, 2*time.Second, f.provider.ends[0].Sub(f.provider.starts[0]))
}
