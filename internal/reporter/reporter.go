package reporter

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"sessionlock/internal/models"
	"sessionlock/pkg/utils"

	"k8s.io/utils/clock"
)

// Store is the subset of the journal the reporter reads.
type Store interface {
	GetChangesSince(since, until time.Time) ([]*models.ChangeEvent, error)
	GetLastChangeBefore(t time.Time) (*models.ChangeEvent, error)
	GetLocksSince(since, until time.Time) ([]*models.LockRecord, error)
}

// Reporter handles report generation
type Reporter struct {
	store Store
	loc   *time.Location
	clock clock.PassiveClock
}

// New creates a new reporter. Periods are aligned to midnight in loc.
func New(store Store, loc *time.Location, clk clock.PassiveClock) *Reporter {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Reporter{
		store: store,
		loc:   loc,
		clock: clk,
	}
}

// GenerateReport generates a report for the specified period. Foreground
// time is derived from consecutive transitions; the newest one runs until
// now, clipped to the period.
func (r *Reporter) GenerateReport(periodType string) (*models.Report, error) {
	now := r.clock.Now().In(r.loc)
	period, err := r.getPeriod(periodType, now)
	if err != nil {
		return nil, err
	}

	until := period.End
	if now.Before(until) {
		until = now
	}

	changes, err := r.store.GetChangesSince(period.Start, until)
	if err != nil {
		return nil, fmt.Errorf("failed to get changes: %w", err)
	}
	prev, err := r.store.GetLastChangeBefore(period.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to get previous change: %w", err)
	}

	summaries := summarize(prev, changes, period.Start, until)

	var totalSeconds int64
	for i := range summaries {
		summaries[i].TotalMinutes = float64(summaries[i].TotalSeconds) / 60.0
		summaries[i].TotalHours = float64(summaries[i].TotalSeconds) / 3600.0
		totalSeconds += summaries[i].TotalSeconds
	}

	if totalSeconds > 0 {
		for i := range summaries {
			summaries[i].Percentage = (float64(summaries[i].TotalSeconds) / float64(totalSeconds)) * 100.0
		}
	}

	locks, err := r.store.GetLocksSince(period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("failed to get locks: %w", err)
	}

	report := &models.Report{
		Period:       *period,
		Apps:         summaries,
		Locks:        summarizeLocks(locks, now),
		TotalSeconds: totalSeconds,
		TotalMinutes: float64(totalSeconds) / 60.0,
		TotalHours:   float64(totalSeconds) / 3600.0,
		GeneratedAt:  now,
	}

	return report, nil
}

// summarize turns transitions into per-app foreground seconds, largest
// first. prev is the transition in effect at start, if any.
func summarize(prev *models.ChangeEvent, changes []*models.ChangeEvent, start, until time.Time) []models.AppSummary {
	totals := make(map[string]*models.AppSummary)
	get := func(app string) *models.AppSummary {
		s, ok := totals[app]
		if !ok {
			s = &models.AppSummary{AppID: app}
			totals[app] = s
		}
		return s
	}

	current, since := "", start
	if prev != nil {
		current = prev.AppID
	}
	flush := func(to time.Time) {
		if current != "" && to.After(since) {
			get(current).TotalSeconds += int64(to.Sub(since) / time.Second)
		}
	}

	for _, ev := range changes {
		flush(ev.Timestamp)
		current, since = ev.AppID, ev.Timestamp
		if current != "" {
			get(current).EventCount++
		}
	}
	flush(until)

	summaries := make([]models.AppSummary, 0, len(totals))
	for _, s := range totals {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].TotalSeconds != summaries[j].TotalSeconds {
			return summaries[i].TotalSeconds > summaries[j].TotalSeconds
		}
		return summaries[i].AppID < summaries[j].AppID
	})
	return summaries
}

func summarizeLocks(locks []*models.LockRecord, now time.Time) models.LockSummary {
	var s models.LockSummary
	for _, l := range locks {
		s.Started++
		end := now
		switch l.Outcome {
		case "expired":
			s.Expired++
		case "cancelled":
			s.Cancelled++
		}
		if l.EndedAt != nil {
			end = *l.EndedAt
		}
		if end.After(l.StartedAt) {
			s.LockedMs += end.Sub(l.StartedAt).Milliseconds()
		}
	}
	return s
}

// getPeriod calculates the time range for the report
func (r *Reporter) getPeriod(periodType string, now time.Time) (*models.ReportPeriod, error) {
	var start, end time.Time

	switch periodType {
	case "day", "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 0, 1)

	case "week":
		// Start of week (Monday)
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)

	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)

	default:
		return nil, fmt.Errorf("invalid period type: %s (valid: day, week, month)", periodType)
	}

	return &models.ReportPeriod{
		Start: start,
		End:   end,
		Type:  periodType,
	}, nil
}

// FormatReportText formats the report as human-readable text
func (r *Reporter) FormatReportText(report *models.Report) string {
	output := fmt.Sprintf("Foreground Report - %s\n", report.Period.Type)
	output += fmt.Sprintf("Period: %s to %s\n",
		report.Period.Start.Format("2006-01-02 15:04"),
		report.Period.End.Format("2006-01-02 15:04"))
	output += fmt.Sprintf("Total Time: %.2fh (%.0fm)\n", report.TotalHours, report.TotalMinutes)
	output += fmt.Sprintf("Breaks: %d started, %d completed, %d cancelled (%s locked)\n\n",
		report.Locks.Started, report.Locks.Expired, report.Locks.Cancelled,
		utils.FormatRoundedUnit(report.Locks.LockedMs/1000))

	if len(report.Apps) == 0 {
		output += "No foreground activity recorded for this period.\n"
		return output
	}

	output += fmt.Sprintf("%-30s %10s %10s %10s\n", "Application", "Hours", "Minutes", "Percent")
	output += fmt.Sprintf("%s\n", "--------------------------------------------------------------------------------")

	for _, app := range report.Apps {
		output += fmt.Sprintf("%-30s %10.2f %10.0f %9.1f%%\n",
			truncate(app.AppID, 30),
			app.TotalHours,
			app.TotalMinutes,
			app.Percentage)
	}

	return output
}

// FormatReportJSON formats the report as JSON
func (r *Reporter) FormatReportJSON(report *models.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
