package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means zero and
// negative values are rejected. path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks field values that strict decoding cannot. All problems are
// reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	dur("standup.task_timeout", cfg.Standup.TaskTimeout)
	if tz := strings.TrimSpace(cfg.Standup.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("standup.default_timezone: %w", err))
		}
	}
	if cfg.Standup.ReconcileShards < 0 {
		errs = append(errs, errors.New("standup.reconcile_shards: must be >= 0"))
	}
	if te := cfg.TaskEngine; te != nil {
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
			errs = append(errs, errors.New("task_engine: sizes must be >= 0"))
		}
	}
	if mc := cfg.Messaging; mc != nil {
		dur("messaging.retry_base", mc.RetryBase)
		dur("messaging.retry_max_delay", mc.RetryMaxDelay)
		dur("messaging.send_timeout", mc.SendTimeout)
		if mc.RatePerSec < 0 || mc.RetryMax < 0 {
			errs = append(errs, errors.New("messaging: rate_per_sec and retry_max must be >= 0"))
		}
	}
	if sc := cfg.Storage; sc != nil {
		dur("storage.busy_timeout", sc.BusyTimeout)
		dur("storage.feed_poll", sc.FeedPoll)
		switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
		case "", "sqlite", "sqlite3":
		case "postgres", "postgresql", "pgx":
			if strings.TrimSpace(sc.DSN) == "" {
				errs = append(errs, errors.New("storage.dsn: required for postgres (or set STANDUP_STORAGE_DSN)"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", sc.Driver))
		}
	}
	if hc := cfg.HTTP; hc != nil {
		dur("http.read_header_timeout", hc.ReadHeaderTimeout)
	}
	return errors.Join(errs...)
}
