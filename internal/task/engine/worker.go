package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync/atomic"
	"time"

	"standupbot/internal/eventbus"
	logx "standupbot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask, idx int) {
	// Per-worker RNG: avoids global lock contention when many tasks retry concurrently.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, stopCh, t, rng)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	if qt.track {
		defer qt.state.release()
	}

	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()

	if maxDelay > 0 && queueDelay > maxDelay {
		s.onStaleDropped(start, qt.task, queueDelay)
		s.record(HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		return
	}

	s.log.Debug("task.started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))

	var err error
	attempts := 0
	maxAttempts := 1 + qt.opt.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runOnce(ctx, qt)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := backoffDelayWithHint(qt.opt, attempt, err, rng)
		s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = ErrStopped
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, Duration: dur, QueueDelay: queueDelay, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(eventbus.TypeTaskFailed, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Attempts: attempts, Error: item.Error})
	} else {
		s.log.Debug("task.completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	}
	s.record(item)
}

// runOnce executes one attempt and converts a panic into an error so one
// bad task can't kill a worker.
func (s *Service) runOnce(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return jitter(min(max(ra.RetryAfter(), 0), opt.RetryMaxDelay), opt, rng)
	}
	return backoffDelay(opt, retry, rng)
}

func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > opt.RetryMaxDelay {
			d = opt.RetryMaxDelay
			break
		}
	}
	return jitter(d, opt, rng)
}

func jitter(d time.Duration, opt TaskOptions, rng *rand.Rand) time.Duration {
	if opt.RetryJitter > 0 && rng != nil && d > 0 {
		r := (rng.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	if d < 0 {
		d = 0
	}
	if d > opt.RetryMaxDelay {
		d = opt.RetryMaxDelay
	}
	return d
}
