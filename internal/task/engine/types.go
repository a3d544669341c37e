package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the task execution engine.
//
// Trigger sources (the job registry) only enqueue; execution settings live here.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	// 0 disables stale-queue dropping.
	MaxQueueDelay time.Duration

	HistorySize int
	RetryMax    int
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.Overlap != OverlapAllow && o.Overlap != OverlapSkipIfRunning {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState tracks whether a task is already in-flight.
// "SkipIfRunning" means "skip if running OR already queued".
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Task is a unit of work executed by the engine. RetryMax < 0 in Opt
// disables retries for the task.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers          int           `json:"workers"`
	QueueLen         int           `json:"queue_len"`
	QueueCap         int           `json:"queue_cap"`
	InFlight         int           `json:"in_flight"`
	Dropped          uint64        `json:"dropped"`
	DroppedQueueFull uint64        `json:"dropped_queue_full"`
	DroppedStale     uint64        `json:"dropped_stale"`
	DefaultTimeout   time.Duration `json:"default_timeout"`
	RetryMax         int           `json:"retry_max"`
	History          []HistoryItem `json:"history,omitempty"`
}
