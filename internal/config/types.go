package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Standup  StandupConfig  `json:"standup"`

	// TaskEngine controls the worker pool that runs trigger callbacks.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Messaging *MessagingConfig `json:"messaging,omitempty"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	HTTP      *HTTPConfig      `json:"http,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via STANDUP_TELEGRAM_TOKEN.
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StandupConfig holds engine-wide scheduling settings.
//
// Defaults:
//   - default_timezone: "GMT"
//   - task_timeout: "2m"
//   - reconcile_shards: 4
type StandupConfig struct {
	DefaultTimezone string `json:"default_timezone,omitempty"`
	TaskTimeout     string `json:"task_timeout,omitempty"`
	ReconcileShards int    `json:"reconcile_shards,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// MessagingConfig controls outbound delivery. rate_per_sec and the retry
// fields are applied live on reload.
type MessagingConfig struct {
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	ParseMode     string `json:"parse_mode,omitempty"`
}

// StorageConfig selects the team/instance store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./standupbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // prefer STANDUP_STORAGE_DSN; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
	FeedPoll    string `json:"feed_poll,omitempty"`
	MaxConns    int    `json:"max_conns,omitempty"`
}

// HTTPConfig controls the ops HTTP server. An empty addr disables it.
type HTTPConfig struct {
	Addr              string `json:"addr"`
	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug. Bind addr to localhost.
	Pprof bool `json:"pprof,omitempty"`
}
