package config

import (
	"hash/fnv"
	"reflect"
	"sort"

	logx "socialwatch/pkg/logx"
)

// RestartSections cannot be applied to a running process.
var RestartSections = map[string]bool{"storage": true, "http": true}

// SummarizeConfigChange lists changed top-level sections and a few safe
// fields to log about them.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, a, b any, fields ...logx.Field) {
		if reflect.DeepEqual(a, b) {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	n := newCfg
	section("logging", oldCfg.Logging, n.Logging,
		logx.String("logging.level", n.Logging.Level),
		logx.Bool("logging.console", n.Logging.Console),
		logx.Bool("logging.file", n.Logging.File.Enabled),
	)
	section("storage", oldCfg.Storage, n.Storage, logx.String("storage.driver", n.Storage.Driver))
	section("scheduler", oldCfg.Scheduler, n.Scheduler,
		logx.Bool("scheduler.enabled", n.Scheduler.Enabled),
		logx.String("scheduler.poll_interval", n.Scheduler.PollInterval),
		logx.String("scheduler.tolerance", n.Scheduler.Tolerance),
		logx.String("scheduler.timezone", n.Scheduler.Timezone),
		logx.String("scheduler.health_check", n.Scheduler.HealthCheck),
	)
	section("engine", oldCfg.Engine, n.Engine, logx.String("engine.timeout", n.Engine.Timeout))
	section("reconcile", oldCfg.Reconcile, n.Reconcile,
		logx.String("reconcile.lookahead", n.Reconcile.Lookahead),
		logx.String("reconcile.tolerance", n.Reconcile.Tolerance),
		logx.Int("reconcile.concurrency", n.Reconcile.Concurrency),
	)
	section("fetch", oldCfg.Fetch, n.Fetch, logx.Int("fetch.max_results", n.Fetch.MaxResults))
	section("report", oldCfg.Report, n.Report, logx.Int("report.min_keyword_mentions", n.Report.MinKeywordMentions))
	section("notifier", oldCfg.Notifier, n.Notifier,
		logx.Bool("notifier.enabled", n.Notifier.Enabled),
		logx.Bool("notifier.chat_set", n.Notifier.ChatID != 0),
	)
	section("health", oldCfg.Health, n.Health, logx.String("health.stale_after", n.Health.StaleAfter))
	section("http", oldCfg.HTTP, n.HTTP, logx.String("http.addr", n.HTTP.Addr))

	sort.Strings(changed)
	return changed, attrs
}

// hashBytes returns a stable 64-bit hash. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

