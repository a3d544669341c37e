package config

import (
	"reflect"
	"sort"
	"strings"

	logx "standupbot/pkg/logx"
)

// Live sections are applied without a restart. Changes to any other section
// are reported but only take effect on the next start.
var liveSections = map[string]bool{"logging": true, "messaging": true}

// SummarizeConfigChange returns the sorted list of changed sections, whether
// any of them needs a restart, and log attrs describing the new values.
// Secrets (token, dsn) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, bool, []logx.Field) {
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
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		mark("telegram",
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Standup != newCfg.Standup {
		mark("standup",
			logx.String("standup.default_timezone", newCfg.Standup.DefaultTimezone),
			logx.String("standup.task_timeout", newCfg.Standup.TaskTimeout),
		)
	}
	if deref(oldCfg.TaskEngine) != deref(newCfg.TaskEngine) {
		te := deref(newCfg.TaskEngine)
		mark("task_engine",
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}
	if deref(oldCfg.Messaging) != deref(newCfg.Messaging) {
		mc := deref(newCfg.Messaging)
		mark("messaging",
			logx.Int("messaging.rate_per_sec", mc.RatePerSec),
			logx.Int("messaging.retry_max", mc.RetryMax),
			logx.String("messaging.retry_base", mc.RetryBase),
		)
	}
	oS, nS := deref(oldCfg.Storage), deref(newCfg.Storage)
	if oS != nS {
		mark("storage",
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_changed", oS.DSN != nS.DSN),
		)
	}
	if deref(oldCfg.HTTP) != deref(newCfg.HTTP) {
		mark("http", logx.String("http.addr", deref(newCfg.HTTP).Addr))
	}

	sort.Strings(changed)
	restart := false
	for _, s := range changed {
		if !liveSections[s] {
			restart = true
		}
	}
	return changed, restart, attrs
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
