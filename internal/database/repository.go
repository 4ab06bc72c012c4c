package database

import (
	"time"

	"sessionlock/internal/models"

	"github.com/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles all database operations for the journal
type Repository struct {
	db *DB
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateChange inserts a foreground transition
func (r *Repository) CreateChange(event *models.ChangeEvent) error {
	result := r.db.Create(event)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert change event")
	}
	return nil
}

// GetChangesSince retrieves transitions in [since, until) in time order
func (r *Repository) GetChangesSince(since, until time.Time) ([]*models.ChangeEvent, error) {
	var events []*models.ChangeEvent
	result := r.db.Where("timestamp >= ? AND timestamp < ?", since, until).
		Order("timestamp ASC, id ASC").
		Find(&events)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query change events")
	}

	return events, nil
}

// GetLastChangeBefore returns the transition in effect at t, or nil
func (r *Repository) GetLastChangeBefore(t time.Time) (*models.ChangeEvent, error) {
	var event models.ChangeEvent
	result := r.db.Where("timestamp < ?", t).Order("timestamp DESC, id DESC").First(&event)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(result.Error, "failed to get previous change event")
	}
	return &event, nil
}

// GetLatestChange retrieves the most recent transition
func (r *Repository) GetLatestChange() (*models.ChangeEvent, error) {
	var event models.ChangeEvent
	result := r.db.Order("timestamp DESC, id DESC").First(&event)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(result.Error, "failed to get latest change event")
	}
	return &event, nil
}

// DeleteOldChanges deletes transitions older than before (soft delete)
func (r *Repository) DeleteOldChanges(before time.Time) (int64, error) {
	result := r.db.Where("timestamp < ?", before).Delete(&models.ChangeEvent{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to delete old change events")
	}
	return result.RowsAffected, nil
}

// UpsertLock inserts a lock record or updates the outcome of an existing one
func (r *Repository) UpsertLock(rec *models.LockRecord) error {
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ended_at", "outcome", "updated_at"}),
	}).Create(rec)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to upsert lock %s", rec.SessionID)
	}
	return nil
}

// GetLocksSince retrieves lock sessions started in [since, until)
func (r *Repository) GetLocksSince(since, until time.Time) ([]*models.LockRecord, error) {
	var locks []*models.LockRecord
	result := r.db.Where("started_at >= ? AND started_at < ?", since, until).
		Order("started_at ASC").
		Find(&locks)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query lock records")
	}
	return locks, nil
}

// GetLock retrieves a lock session by its session ID
func (r *Repository) GetLock(sessionID string) (*models.LockRecord, error) {
	var rec models.LockRecord
	result := r.db.Where("session_id = ?", sessionID).First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get lock record")
	}
	return &rec, nil
}

// CreateErrorLog inserts a new error log into the database
func (r *Repository) CreateErrorLog(errorLog *models.ErrorLog) error {
	result := r.db.Create(errorLog)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert error log")
	}
	return nil
}

// GetErrorsSince retrieves error logs since a given time
func (r *Repository) GetErrorsSince(since time.Time) ([]*models.ErrorLog, error) {
	var logs []*models.ErrorLog
	result := r.db.Where("timestamp >= ?", since).Order("timestamp ASC").Find(&logs)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query error logs")
	}
	return logs, nil
}

// Clear removes all journal rows from the database
func (r *Repository) Clear() error {
	for _, table := range []string{"change_events", "lock_records", "error_logs"} {
		if result := r.db.Exec("DELETE FROM " + table); result.Error != nil {
			return errors.Wrapf(result.Error, "failed to clear %s", table)
		}
	}
	return nil
}
