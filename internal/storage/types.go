package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"socialwatch/internal/schedule"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by compare-and-set writes whose precondition no longer holds.
	ErrConflict = errors.New("conflict")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

// Store is the persistence API used by the engine, the loop and the command layer.
type Store interface {
	CreateSchedule(ctx context.Context, s schedule.Schedule) (schedule.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error)
	ListSchedules(ctx context.Context, f ScheduleFilter) ([]schedule.Schedule, error)
	// SetScheduleEnabled flips enabled only when the current value differs.
	// It returns ErrConflict when the schedule is already in the requested state.
	SetScheduleEnabled(ctx context.Context, id int64, enabled bool) (schedule.Schedule, error)
	RecordRun(ctx context.Context, id int64, u RunUpdate) (schedule.Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) error
	// ScheduleRevision changes whenever any schedule row changes.
	ScheduleRevision(ctx context.Context) (int64, error)

	InsertReport(ctx context.Context, r Report) (int64, error)
	ListReports(ctx context.Context, f ReportFilter) ([]Report, error)
	InsertArchive(ctx context.Context, a ArchiveRecord) error

	// InsertItems writes items whose item_id is unseen and returns how many were new.
	InsertItems(ctx context.Context, items []CollectedItem) (int, error)
	CountItems(ctx context.Context, subject string) (int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

type ScheduleFilter struct {
	EnabledOnly bool
	// DueBefore keeps schedules whose next_run is set and <= DueBefore.
	DueBefore *time.Time
	// LegacyOnly keeps schedules without an anchor time.
	LegacyOnly bool
	Platform   schedule.Platform
	Limit      int
}

// RunUpdate is applied after an execution. It never re-enables a schedule.
type RunUpdate struct {
	LastRun    time.Time
	SetNextRun bool
	NextRun    *time.Time
	Disable    bool
}

type Classification struct {
	AccountType string  `json:"account_type"`
	LeadScore   int     `json:"lead_score"`
	Positive    int     `json:"positive"`
	Negative    int     `json:"negative"`
	Neutral     int     `json:"neutral"`
}

type Report struct {
	ID             int64
	ScheduleID     *int64
	Platform       schedule.Platform
	Subject        string
	Keywords       []string
	ItemCount      int
	Classification Classification
	RenderedText   string
	RawPayload     json.RawMessage
	Filters        json.RawMessage
	CreatedAt      time.Time
}

type ReportFilter struct {
	Subject    string
	ScheduleID int64
	Limit      int
}

type ScrapeKind string

const (
	ScrapeQuick     ScrapeKind = "quick"
	ScrapeScheduled ScrapeKind = "scheduled"
	ScrapeBulk      ScrapeKind = "bulk"
	ScrapeManual    ScrapeKind = "manual"
	ScrapeDiscovery ScrapeKind = "discovery"
)

type Entities struct {
	IDs      []string `json:"ids,omitempty"`
	Hashtags []string `json:"hashtags,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	URLs     []string `json:"urls,omitempty"`
}

type ArchiveRecord struct {
	ID        string
	ReportID  *int64
	Subject   string
	Platform  schedule.Platform
	ScrapedAt time.Time
	RawJSON   json.RawMessage
	RawText   string
	Entities  Entities
	Metrics   json.RawMessage
	Kind      ScrapeKind
}

type CollectedItem struct {
	ItemID      string
	Subject     string
	Platform    schedule.Platform
	Author      string
	Text        string
	CreatedAt   time.Time
	Metrics     json.RawMessage
	Raw         json.RawMessage
	CollectedAt time.Time
}

// AuditEntry records an operator action on a schedule.
type AuditEntry struct {
	At         time.Time
	Actor      string
	Action     string
	ScheduleID int64
	Status     string
	Error      string
	MetaJSON   string
}
