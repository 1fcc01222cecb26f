package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	"socialwatch/internal/task/engine"
	logx "socialwatch/pkg/logx"
)

// MinPollInterval is the lower bound for Config.PollInterval.
const MinPollInterval = time.Minute

// PollJobName is the job name of the loop tick.
const PollJobName = "scheduler.poll"

// Config controls the loop.
type Config struct {
	// Enabled turns the poll tick on. With it off the service still runs
	// registered jobs and external reconcile calls drive execution.
	Enabled      bool
	PollInterval time.Duration
	// Tolerance lets a tick run schedules whose next_run sits slightly ahead.
	Tolerance time.Duration
	Timezone  string // IANA TZ for cron jobs, e.g. "UTC"
}

func (c Config) pollEvery() time.Duration {
	if c.PollInterval < MinPollInterval {
		return MinPollInterval
	}
	return c.PollInterval
}

// Store is the subset of storage the loop reads.
type Store interface {
	GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error)
	ListSchedules(ctx context.Context, f storage.ScheduleFilter) ([]schedule.Schedule, error)
	ScheduleRevision(ctx context.Context) (int64, error)
}

// Executor runs one schedule. *engine.Service implements it.
type Executor interface {
	Execute(ctx context.Context, id int64, tr engine.Trigger) engine.Result
	History(limit int) []engine.HistoryItem
}

// JobFunc is a registered cron job. now is the tick instant.
type JobFunc func(ctx context.Context, now time.Time)

type jobDef struct {
	name          string
	spec          string
	run           JobFunc
	entryID       cron.EntryID
	startupSpread time.Duration
}

// Service owns the cron instance and the active set.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	store Store
	exec  Executor
	now   func() time.Time

	parser cron.Parser
	c      *cron.Cron
	defs   []jobDef

	runCtx    context.Context
	runCancel context.CancelFunc

	// active set: enabled, anchored, not completed
	hmu      sync.RWMutex
	handles  map[int64]schedule.Schedule
	rev      int64
	loaded   bool
	lastTick TickReport
}

// TickReport summarizes one pass of the loop.
type TickReport struct {
	At       time.Time     `json:"at"`
	Due      int           `json:"due"`
	Executed int           `json:"executed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took"`
}

type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type Snapshot struct {
	Enabled      bool                 `json:"enabled"`
	Timezone     string               `json:"timezone"`
	PollInterval time.Duration        `json:"poll_interval"`
	Tolerance    time.Duration        `json:"tolerance"`
	Revision     int64                `json:"revision"`
	Active       []schedule.Schedule  `json:"active"`
	Jobs         []JobInfo            `json:"jobs"`
	LastTick     TickReport           `json:"last_tick"`
	History      []engine.HistoryItem `json:"history"`
}
