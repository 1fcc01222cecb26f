package app

import (
	"fmt"
	"strings"
	"time"

	"socialwatch/internal/config"
	"socialwatch/internal/fetch"
	"socialwatch/internal/health"
	"socialwatch/internal/notifier"
	"socialwatch/internal/report"
	"socialwatch/internal/storage"
	"socialwatch/internal/task/engine"
	"socialwatch/internal/task/reconcile"
	"socialwatch/internal/task/scheduler"
	logx "socialwatch/pkg/logx"
)

const defaultHealthSpec = "0 8 * * *"

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig picks the driver. An empty driver means postgres when
// DATABASE_URL is set and sqlite otherwise.
func mapStorageConfig(cfg *config.Config, sec config.Secrets) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" && sec.DatabaseURL != "" {
		driver = "postgres"
	}
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = "./socialwatch.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		if sec.DatabaseURL == "" {
			return storage.Config{}, fmt.Errorf("storage.driver=postgres requires DATABASE_URL")
		}
		if sc.MaxConns < 0 {
			return storage.Config{}, fmt.Errorf("storage.max_conns must be >= 0")
		}
		return storage.Config{Driver: "postgres", DSN: storage.NormalizeDSN(sec.DatabaseURL), MaxConns: sc.MaxConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg.Engine.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("engine.history_size must be >= 0")
	}
	timeout, err := config.ParseDurationOrDefault("engine.timeout", cfg.Engine.Timeout, 2*time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	f, err := mapFilters(cfg)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{Timeout: timeout, HistorySize: cfg.Engine.HistorySize, Filters: f}, nil
}

func mapFilters(cfg *config.Config) (fetch.Filters, error) {
	if cfg.Fetch.MaxResults < 0 || cfg.Fetch.MaxResults > 100 {
		return fetch.Filters{}, fmt.Errorf("fetch.max_results must be within 0..100")
	}
	return fetch.Filters{MaxResults: cfg.Fetch.MaxResults, TimeFilter: cfg.Fetch.TimeFilter}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, scheduler.MinPollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	tol, err := config.ParseDurationField("scheduler.tolerance", cfg.Scheduler.Tolerance)
	if err != nil {
		return scheduler.Config{}, err
	}
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, PollInterval: poll, Tolerance: tol, Timezone: tz}, nil
}

// mapHealthSpec returns the cron spec of the health job, or "" when it is off.
func mapHealthSpec(cfg *config.Config) (string, error) {
	raw := strings.TrimSpace(cfg.Scheduler.HealthCheck)
	switch strings.ToLower(raw) {
	case "":
		return defaultHealthSpec, nil
	case "off", "none", "disabled":
		return "", nil
	}
	spec, err := scheduler.ParseSpec(raw)
	if err != nil {
		return "", fmt.Errorf("scheduler.health_check: %w", err)
	}
	return spec, nil
}

func mapReconcileConfig(cfg *config.Config) (reconcile.Config, error) {
	look, err := config.ParseDurationOrDefault("reconcile.lookahead", cfg.Reconcile.Lookahead, reconcile.DefaultLookahead)
	if err != nil {
		return reconcile.Config{}, err
	}
	tol, err := config.ParseDurationOrDefault("reconcile.tolerance", cfg.Reconcile.Tolerance, reconcile.DefaultTolerance)
	if err != nil {
		return reconcile.Config{}, err
	}
	if cfg.Reconcile.Concurrency < 0 {
		return reconcile.Config{}, fmt.Errorf("reconcile.concurrency must be >= 0")
	}
	rc := reconcile.Config{Lookahead: look, Tolerance: tol, Concurrency: cfg.Reconcile.Concurrency}
	if err := rc.Validate(); err != nil {
		return reconcile.Config{}, err
	}
	return rc, nil
}

func mapTwitterConfig(cfg *config.Config, sec config.Secrets) (fetch.TwitterConfig, error) {
	timeout, err := config.ParseDurationOrDefault("fetch.twitter.timeout", cfg.Fetch.Twitter.Timeout, 30*time.Second)
	if err != nil {
		return fetch.TwitterConfig{}, err
	}
	return fetch.TwitterConfig{
		BaseURL:     cfg.Fetch.Twitter.BaseURL,
		BearerToken: sec.TwitterBearerToken,
		MaxResults:  cfg.Fetch.MaxResults,
		RatePerSec:  cfg.Fetch.Twitter.RatePerSec,
		Timeout:     timeout,
	}, nil
}

func mapRedditConfig(cfg *config.Config, sec config.Secrets) (fetch.RedditConfig, error) {
	timeout, err := config.ParseDurationOrDefault("fetch.reddit.timeout", cfg.Fetch.Reddit.Timeout, 30*time.Second)
	if err != nil {
		return fetch.RedditConfig{}, err
	}
	return fetch.RedditConfig{
		BaseURL:      cfg.Fetch.Reddit.BaseURL,
		TokenURL:     cfg.Fetch.Reddit.TokenURL,
		ClientID:     sec.RedditClientID,
		ClientSecret: sec.RedditClientSecret,
		UserAgent:    sec.RedditUserAgent,
		MaxResults:   cfg.Fetch.MaxResults,
		TimeFilter:   cfg.Fetch.TimeFilter,
		RatePerSec:   cfg.Fetch.Reddit.RatePerSec,
		Timeout:      timeout,
	}, nil
}

func mapReportConfig(cfg *config.Config) (report.Config, error) {
	if cfg.Report.MinKeywordMentions < 0 || cfg.Report.TopN < 0 {
		return report.Config{}, fmt.Errorf("report.min_keyword_mentions and report.top_n must be >= 0")
	}
	return report.Config{MinKeywordMentions: cfg.Report.MinKeywordMentions, TopN: cfg.Report.TopN}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: numeric settings must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func mapStaleAfter(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("health.stale_after", cfg.Health.StaleAfter, health.DefaultStaleAfter)
}

// httpSettings are the listener knobs of the API server.
type httpSettings struct {
	Enabled         bool
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Pprof           bool
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	h := cfg.HTTP
	out := httpSettings{Enabled: h.Enabled, Addr: strings.TrimSpace(h.Addr), Pprof: h.Pprof}
	if out.Addr == "" {
		out.Addr = ":8080"
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 15*time.Second); err != nil {
		return httpSettings{}, err
	}
	// Reconcile holds the request open while runs execute.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 5*time.Minute); err != nil {
		return httpSettings{}, err
	}
	if out.ShutdownTimeout, err = config.ParseDurationOrDefault("http.shutdown_timeout", h.ShutdownTimeout, 5*time.Second); err != nil {
		return httpSettings{}, err
	}
	return out, nil
}

// validateConfig runs every mapper so a bad hot reload is rejected before
// it is committed.
func validateConfig(cfg *config.Config, sec config.Secrets) error {
	if _, err := mapStorageConfig(cfg, sec); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHealthSpec(cfg); err != nil {
		return err
	}
	if _, err := mapReconcileConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTwitterConfig(cfg, sec); err != nil {
		return err
	}
	if _, err := mapRedditConfig(cfg, sec); err != nil {
		return err
	}
	if _, err := mapReportConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStaleAfter(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
