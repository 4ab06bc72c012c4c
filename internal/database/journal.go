package database

import (
	"time"

	"sessionlock/internal/events"
	"sessionlock/internal/lock"
	"sessionlock/internal/models"
	"sessionlock/pkg/errclass"
)

// Journal adapts a Repository to the watcher and lock controller journals.
type Journal struct {
	repo *Repository
}

func NewJournal(repo *Repository) *Journal {
	return &Journal{repo: repo}
}

func (j *Journal) RecordChange(ev events.ChangeEvent) error {
	return j.repo.CreateChange(&models.ChangeEvent{
		Timestamp: ev.DetectedAt,
		AppID:     ev.ProcessID,
	})
}

func (j *Journal) RecordError(at time.Time, err error) error {
	return j.repo.CreateErrorLog(&models.ErrorLog{
		Timestamp: at,
		Code:      errclass.Code(err),
		ErrorMsg:  err.Error(),
	})
}

func (j *Journal) RecordLock(snap lock.Snapshot) error {
	rec := &models.LockRecord{
		SessionID:   snap.ID,
		RequestedMs: snap.RequestedMs,
		StartedAt:   snap.StartedAt,
		Outcome:     snap.Status,
	}
	if !snap.EndedAt.IsZero() {
		ended := snap.EndedAt
		rec.EndedAt = &ended
	}
	return j.repo.UpsertLock(rec)
}
