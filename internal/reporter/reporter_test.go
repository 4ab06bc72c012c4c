package reporter

import (
	"encoding/json"
	"testing"
	"time"

	"sessionlock/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type MockStore struct {
	changes []*models.ChangeEvent
	prev    *models.ChangeEvent
	locks   []*models.LockRecord

	gotSince, gotUntil time.Time
}

func (m *MockStore) GetChangesSince(since, until time.Time) ([]*models.ChangeEvent, error) {
	m.gotSince, m.gotUntil = since, until
	return m.changes, nil
}

func (m *MockStore) GetLastChangeBefore(t time.Time) (*models.ChangeEvent, error) {
	return m.prev, nil
}

func (m *MockStore) GetLocksSince(since, until time.Time) ([]*models.LockRecord, error) {
	return m.locks, nil
}

// Wednesday.
var now = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 4, h, m, 0, 0, time.UTC)
}

func newReporter(store Store) *Reporter {
	return New(store, time.UTC, testingclock.NewFakePassiveClock(now))
}

func TestGenerateReport_Day(t *testing.T) {
	ended := at(8, 35)
	store := &MockStore{
		prev: &models.ChangeEvent{AppID: "mail", Timestamp: time.Date(2026, 3, 3, 23, 0, 0, 0, time.UTC)},
		changes: []*models.ChangeEvent{
			{AppID: "browser", Timestamp: at(8, 0)},
			{AppID: "", Timestamp: at(9, 0)},
			{AppID: "editor", Timestamp: at(9, 30)},
		},
		locks: []*models.LockRecord{
			{SessionID: "a", Outcome: "expired", StartedAt: at(8, 30), EndedAt: &ended},
			{SessionID: "b", Outcome: "running", StartedAt: at(9, 55)},
		},
	}

	report, err := newReporter(store).GenerateReport("day")
	require.NoError(t, err)

	assert.True(t, report.Period.Start.Equal(at(0, 0)))
	assert.True(t, report.Period.End.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)))
	assert.True(t, store.gotUntil.Equal(now), "changes are read up to now")

	require.Len(t, report.Apps, 3)
	assert.Equal(t, "mail", report.Apps[0].AppID)
	assert.Equal(t, int64(8*3600), report.Apps[0].TotalSeconds)
	assert.Equal(t, 0, report.Apps[0].EventCount)
	assert.Equal(t, "browser", report.Apps[1].AppID)
	assert.Equal(t, int64(3600), report.Apps[1].TotalSeconds)
	assert.Equal(t, 1, report.Apps[1].EventCount)
	assert.Equal(t, "editor", report.Apps[2].AppID)
	assert.Equal(t, int64(1800), report.Apps[2].TotalSeconds)

	assert.Equal(t, int64(34200), report.TotalSeconds)
	assert.InDelta(t, 9.5, report.TotalHours, 0.001)
	assert.InDelta(t, 84.21, report.Apps[0].Percentage, 0.01)

	assert.Equal(t, models.LockSummary{Started: 2, Expired: 1, LockedMs: 600000}, report.Locks)
}

func TestGenerateReport_Empty(t *testing.T) {
	report, err := newReporter(&MockStore{}).GenerateReport("week")
	require.NoError(t, err)

	assert.Empty(t, report.Apps)
	assert.Equal(t, int64(0), report.TotalSeconds)
	assert.Contains(t, newReporter(&MockStore{}).FormatReportText(report), "No foreground activity recorded")
}

func TestGetPeriod(t *testing.T) {
	r := newReporter(&MockStore{})

	tests := []struct {
		period string
		start  time.Time
		end    time.Time
	}{
		{"day", at(0, 0), time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"today", at(0, 0), time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"week", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"month", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			p, err := r.getPeriod(tt.period, now)
			require.NoError(t, err)
			assert.True(t, p.Start.Equal(tt.start), "start = %v", p.Start)
			assert.True(t, p.End.Equal(tt.end), "end = %v", p.End)
		})
	}

	_, err := r.getPeriod("year", now)
	assert.Error(t, err)
}

func TestFormatReport(t *testing.T) {
	store := &MockStore{changes: []*models.ChangeEvent{{AppID: "browser", Timestamp: at(9, 0)}}}
	r := newReporter(store)

	report, err := r.GenerateReport("day")
	require.NoError(t, err)

	text := r.FormatReportText(report)
	assert.Contains(t, text, "Foreground Report - day")
	assert.Contains(t, text, "Breaks: 0 started")
	assert.Contains(t, text, "browser")
	assert.Contains(t, text, "100.0%")

	out, err := r.FormatReportJSON(report)
	require.NoError(t, err)
	var decoded models.Report
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "browser", decoded.Apps[0].AppID)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 30))
	assert.Equal(t, "org.gnome.Nau...", truncate("org.gnome.Nautilus.Desktop", 16))
}
