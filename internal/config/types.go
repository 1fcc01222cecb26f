package config

// Config is the file-backed configuration. Secrets never live here; they
// come from the environment (see Secrets).
//
// All durations are Go duration strings ("90s", "5m", "48h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Fetch     FetchConfig     `json:"fetch"`
	Report    ReportConfig    `json:"report"`
	Notifier  NotifierConfig  `json:"notifier"`
	Health    HealthConfig    `json:"health"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the database.
//
// Example:
//
//	storage: { driver: sqlite, path: ./socialwatch.db }
//
// With driver "postgres" the DSN comes from DATABASE_URL (or
// DATABASE_PRIVATE_URL / POSTGRES_URL).
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres
}

// SchedulerConfig controls the in-process loop.
//
// Defaults:
//   - poll_interval: "60s" (values below 60s are raised to 60s)
//   - tolerance: "0s"
//   - timezone: "UTC"
//   - health_check: "0 8 * * *" ("off" disables the job)
type SchedulerConfig struct {
	Enabled      bool   `json:"enabled"`
	PollInterval string `json:"poll_interval,omitempty"`
	Tolerance    string `json:"tolerance,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	HealthCheck  string `json:"health_check,omitempty"`
	// CleanupLegacyOnStart pauses schedules without an anchor time at boot.
	CleanupLegacyOnStart bool `json:"cleanup_legacy_on_start,omitempty"`
}

type EngineConfig struct {
	// Timeout bounds a single execution; "0s" disables it.
	Timeout     string `json:"timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// ReconcileConfig controls the externally triggered pass.
// tolerance must stay below lookahead.
type ReconcileConfig struct {
	Lookahead   string `json:"lookahead,omitempty"`
	Tolerance   string `json:"tolerance,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

type FetchConfig struct {
	MaxResults int           `json:"max_results,omitempty"`
	TimeFilter string        `json:"time_filter,omitempty"`
	Twitter    TwitterConfig `json:"twitter"`
	Reddit     RedditConfig  `json:"reddit"`
}

type TwitterConfig struct {
	BaseURL    string  `json:"base_url,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

type RedditConfig struct {
	BaseURL    string  `json:"base_url,omitempty"`
	TokenURL   string  `json:"token_url,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

type ReportConfig struct {
	MinKeywordMentions int `json:"min_keyword_mentions,omitempty"`
	TopN               int `json:"top_n,omitempty"`
}

// NotifierConfig controls operator alerts. Telegram is used when
// TELEGRAM_BOT_TOKEN is set and chat_id is non-zero; otherwise alerts go to
// the log.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	ChatID          int64  `json:"chat_id,omitempty"`
	ThreadID        int    `json:"thread_id,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	// NotifyFailures also alerts on failed scheduled runs.
	NotifyFailures bool `json:"notify_failures,omitempty"`
}

type HealthConfig struct {
	StaleAfter string `json:"stale_after,omitempty"` // default "48h"
}

type HTTPConfig struct {
	Enabled         bool   `json:"enabled"`
	Addr            string `json:"addr,omitempty"` // default ":8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// Pprof mounts net/http/pprof under /debug behind the cron secret.
	Pprof bool `json:"pprof,omitempty"`
}
