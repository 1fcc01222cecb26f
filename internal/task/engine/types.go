package engine

import (
	"sync"
	"time"

	"socialwatch/internal/fetch"
	"socialwatch/internal/schedule"
)

// Config controls the execution engine.
type Config struct {
	// Timeout bounds a single execution (fetch through ingest). 0 disables it.
	Timeout     time.Duration
	HistorySize int
	Filters     fetch.Filters
}

type TriggerKind string

const (
	TriggerLoop   TriggerKind = "loop"
	TriggerCron   TriggerKind = "cron"
	TriggerManual TriggerKind = "manual"
)

// Trigger describes who asked for an execution and at which instant.
// Manual triggers bypass the due check and never move next_run.
type Trigger struct {
	Kind      TriggerKind
	Now       time.Time
	Tolerance time.Duration
}

type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

type Reason string

const (
	ReasonNone        Reason = ""
	ReasonDisabled    Reason = "disabled"
	ReasonNoContent   Reason = "no_content"
	ReasonNotYetDue   Reason = "not_yet_due"
	ReasonInFlight    Reason = "in_flight"
	ReasonLegacy      Reason = "legacy"
	ReasonNotFound    Reason = "not_found"
	ReasonFetch       Reason = "fetch_error"
	ReasonBuild       Reason = "build_error"
	ReasonPersistence Reason = "persistence_error"
	ReasonPanic       Reason = "panic"
)

// Result is the outcome of one Execute call. Errors never cross the engine
// boundary any other way.
type Result struct {
	ScheduleID int64             `json:"schedule_id"`
	Trigger    TriggerKind       `json:"trigger"`
	Outcome    Outcome           `json:"outcome"`
	Reason     Reason            `json:"reason,omitempty"`
	Err        error             `json:"-"`
	Error      string            `json:"error,omitempty"`
	ReportID   int64             `json:"report_id,omitempty"`
	ArchiveID  string            `json:"archive_id,omitempty"`
	Items      int               `json:"items"`
	NewItems   int               `json:"new_items"`
	Advanced   bool              `json:"advanced"`
	Schedule   schedule.Schedule `json:"-"`
	Started    time.Time         `json:"started"`
	Duration   time.Duration     `json:"duration"`
}

// RunState guards a single schedule against overlapping executions.
type RunState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *RunState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

func (s *RunState) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// HistoryItem is a compact record of a finished execution.
type HistoryItem struct {
	ScheduleID int64         `json:"schedule_id"`
	Trigger    TriggerKind   `json:"trigger"`
	Outcome    Outcome       `json:"outcome"`
	Reason     Reason        `json:"reason,omitempty"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}
