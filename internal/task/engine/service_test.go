package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "standupbot/pkg/logx"
)

func nopLog() logx.Logger { return logx.Nop() }

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, nopLog(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "ok", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	waitFor(t, ran.Load)
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		h := s.Snapshot().History
		return len(h) == 1 && h[0].Error == "" && h[0].Attempts == 3
	})
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 5})
	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "permanent", Run: func(ctx context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("bad input"))
	}})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if h := s.Snapshot().History[0]; h.Error != "bad input" {
		t.Fatalf("history error = %q", h.Error)
	}
}

func TestNegativeRetryMaxDisablesRetries(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 5})
	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "once", Opt: TaskOptions{RetryMax: -1}, Run: func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("fail")
	}})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	_ = s.Enqueue(Task{Name: "panics", Opt: TaskOptions{RetryMax: -1}, Run: func(ctx context.Context) error {
		panic("boom")
	}})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if h := s.Snapshot().History[0]; h.Error != "panic: boom" {
		t.Fatalf("history error = %q", h.Error)
	}
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	st := &RunState{}
	task := Task{Name: "slow", State: st, Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(ctx context.Context) error {
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue err = %v, want ErrOverlapSkip", err)
	}
	close(release)
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nopLog(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{}.withDefaults(Config{RetryMax: 3})
	opt.RetryJitter = 0.0001
	for retry := 1; retry <= 10; retry++ {
		d := backoffDelay(opt, retry, nil)
		if d <= 0 || d > opt.RetryMaxDelay {
			t.Fatalf("retry %d: delay %v out of bounds", retry, d)
		}
	}
	hinted := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("429"), time.Hour), nil)
	if hinted != opt.RetryMaxDelay {
		t.Fatalf("hinted delay = %v, want capped %v", hinted, opt.RetryMaxDelay)
	}
}
