package models

import (
	"time"

	"gorm.io/gorm"
)

// ChangeEvent is a foreground transition. An empty AppID means the
// foreground became unknown.
type ChangeEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Timestamp time.Time      `gorm:"not null;index" json:"timestamp"`
	AppID     string         `gorm:"not null;index" json:"app_id"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// LockRecord is one lock session, upserted by SessionID as it progresses.
type LockRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	SessionID   string     `gorm:"not null;uniqueIndex" json:"session_id"`
	RequestedMs int64      `gorm:"not null;default:0" json:"requested_ms"`
	StartedAt   time.Time  `gorm:"not null;index" json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Outcome     string     `gorm:"not null;index" json:"outcome"` // running, expired, cancelled
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type AppSummary struct {
	AppID        string  `json:"app_id"`
	TotalSeconds int64   `json:"total_seconds"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	EventCount   int     `json:"event_count"`
	Percentage   float64 `json:"percentage,omitempty"`
}

type LockSummary struct {
	Started   int   `json:"started"`
	Expired   int   `json:"expired"`
	Cancelled int   `json:"cancelled"`
	LockedMs  int64 `json:"locked_ms"`
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "day", "week", "month"
}

type Report struct {
	Period       ReportPeriod `json:"period"`
	Apps         []AppSummary `json:"apps"`
	Locks        LockSummary  `json:"locks"`
	TotalSeconds int64        `json:"total_seconds"`
	TotalMinutes float64      `json:"total_minutes"`
	TotalHours   float64      `json:"total_hours"`
	GeneratedAt  time.Time    `json:"generated_at"`
}
