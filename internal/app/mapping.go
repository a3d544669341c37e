package app

import (
	"strings"
	"time"

	"standupbot/internal/config"
	"standupbot/internal/domain"
	"standupbot/internal/messaging"
	"standupbot/internal/storage"
	"standupbot/internal/task/engine"
	logx "standupbot/pkg/logx"
)

const (
	defaultTaskTimeout = 2 * time.Minute
	defaultPollTimeout = 10 * time.Second
	defaultSQLitePath  = "./standupbot.db"
	defaultTaskRetries = 2
)

// standupSettings is the resolved standup section.
type standupSettings struct {
	DefaultTimezone string
	TaskTimeout     time.Duration
	Shards          int
}

func mapStandup(cfg *config.Config) (standupSettings, error) {
	tz := strings.TrimSpace(cfg.Standup.DefaultTimezone)
	if tz == "" {
		tz = domain.DefaultTimezone
	}
	timeout, err := config.ParseDurationOrDefault("standup.task_timeout", cfg.Standup.TaskTimeout, defaultTaskTimeout)
	if err != nil {
		return standupSettings{}, err
	}
	return standupSettings{DefaultTimezone: tz, TaskTimeout: timeout, Shards: cfg.Standup.ReconcileShards}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTaskEngine(cfg *config.Config) (engine.Config, error) {
	// RetryMax applies to reminder checkpoints; standup posts never retry.
	out := engine.Config{Workers: 4, QueueSize: 256, HistorySize: 200, RetryMax: defaultTaskRetries}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax != 0 {
		out.RetryMax = te.RetryMax
	}
	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapMessaging leaves zero values to the messaging package defaults.
func mapMessaging(cfg *config.Config) (messaging.Config, error) {
	mc := cfg.Messaging
	if mc == nil {
		return messaging.Config{RetryMax: 3}, nil
	}
	out := messaging.Config{RatePerSec: mc.RatePerSec, RetryMax: mc.RetryMax, ParseMode: mc.ParseMode}
	var err error
	if out.RetryBase, err = config.ParseDurationField("messaging.retry_base", mc.RetryBase); err != nil {
		return messaging.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("messaging.retry_max_delay", mc.RetryMaxDelay); err != nil {
		return messaging.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("messaging.send_timeout", mc.SendTimeout); err != nil {
		return messaging.Config{}, err
	}
	return out, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "sqlite", Path: defaultSQLitePath}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	poll, err := config.ParseDurationField("storage.feed_poll", sc.FeedPoll)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		FeedPoll:    poll,
		MaxConns:    int32(sc.MaxConns),
	}
	if out.Driver == "" {
		out.Driver = "sqlite"
	}
	if out.Path == "" {
		out.Path = defaultSQLitePath
	}
	return out, nil
}
