package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"standupbot/internal/eventbus"
	rtsup "standupbot/internal/runtime/supervisor"
	logx "standupbot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a bounded worker pool. Trigger callbacks enqueue here so a slow
// team never blocks the cron goroutine or other teams.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q chan queuedTask

	inFlight int32

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	idSeq uint64

	dropped          uint64
	droppedQueueFull uint64
	droppedStale     uint64

	lastQueueFullWarnAt int64
	lastStaleWarnAt     int64
}

type queuedTask struct {
	task Task

	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions

	state *RunState
	track bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		states: make(map[string]*RunState),
	}
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	queue := s.q

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// worker failures must not take the daemon down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue, idx)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

// Stop signals workers to exit and waits until they do or ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil || s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	sup.Cancel()
	go func() {
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue tries to enqueue a task without blocking. If the queue is full, the task is dropped.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit enqueues a task and blocks until it is accepted, ctx is canceled, or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task Name is required")
	}

	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = s.newTaskID(now)
	}

	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if q == nil || stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	opt := t.Opt.withDefaults(cfg)

	st := t.State
	if st == nil {
		st = s.stateFor(t.Name)
	}
	track := false
	if opt.Overlap == OverlapSkipIfRunning {
		track = true
		if !st.tryAcquire() {
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
			return ErrOverlapSkip
		}
	}

	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, opt: opt, state: st, track: track}

	if !block {
		select {
		case q <- qt:
			return nil
		default:
			if track {
				st.release()
			}
			s.onQueueFullDropped(now, t, q)
			return ErrQueueFull
		}
	}

	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		if track {
			st.release()
		}
		return ctx.Err()
	case <-stopCh:
		if track {
			st.release()
		}
		return ErrStopping
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	snap := Snapshot{
		Workers:          cfg.Workers,
		InFlight:         int(atomic.LoadInt32(&s.inFlight)),
		Dropped:          atomic.LoadUint64(&s.dropped),
		DroppedQueueFull: atomic.LoadUint64(&s.droppedQueueFull),
		DroppedStale:     atomic.LoadUint64(&s.droppedStale),
		DefaultTimeout:   cfg.DefaultTimeout,
		RetryMax:         cfg.RetryMax,
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) stateFor(name string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) newTaskID(now time.Time) string {
	seq := atomic.AddUint64(&s.idSeq, 1)
	return fmt.Sprintf("tsk-%x-%x", now.UnixNano(), seq)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}

func (s *Service) shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

func (s *Service) onQueueFullDropped(now time.Time, t Task, q chan queuedTask) {
	atomic.AddUint64(&s.dropped, 1)
	atomic.AddUint64(&s.droppedQueueFull, 1)
	s.publish(eventbus.TypeTaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Error: "queue_full"})

	if s.shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped_queue_full", atomic.LoadUint64(&s.droppedQueueFull)),
		)
	}
}

func (s *Service) onStaleDropped(now time.Time, t Task, queueDelay time.Duration) {
	atomic.AddUint64(&s.dropped, 1)
	atomic.AddUint64(&s.droppedStale, 1)
	s.publish(eventbus.TypeTaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Error: "stale_queue_delay"})

	if s.shouldWarn(&s.lastStaleWarnAt, now) {
		s.log.Warn("task dropped: stale queue",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped_stale", atomic.LoadUint64(&s.droppedStale)),
		)
	}
}
