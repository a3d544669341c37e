package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"standupbot/internal/domain"
	"standupbot/internal/eventbus"
	kit "standupbot/internal/transport"
	logx "standupbot/pkg/logx"
)

const historySize = 200

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter kit.Adapter
	log     logx.Logger
	bus     eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

var _ domain.Messenger = (*Service)(nil)

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the delivery settings. In-flight sends keep their snapshot.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) PostMessage(ctx context.Context, channelID, content string) (domain.MessageRef, error) {
	to, err := parseTarget(channelID)
	if err != nil {
		return domain.MessageRef{}, err
	}
	ref, err := s.send(ctx, "post", channelID, to, content, nil)
	if err != nil {
		return domain.MessageRef{}, err
	}
	return domain.MessageRef{ChannelID: channelID, MessageID: strconv.Itoa(ref.MessageID)}, nil
}

// PostDirectMessage sends a private message. A Telegram user's private chat
// id equals the user id.
func (s *Service) PostDirectMessage(ctx context.Context, memberID, content string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(memberID), 10, 64)
	if err != nil {
		return fmt.Errorf("messaging: invalid member id %q: %w", memberID, err)
	}
	_, err = s.send(ctx, "dm", memberID, kit.ChatTarget{ChatID: id}, content, nil)
	return err
}

func (s *Service) ReplyInThread(ctx context.Context, ref domain.MessageRef, content string) error {
	to, err := parseTarget(ref.ChannelID)
	if err != nil {
		return err
	}
	mid, err := strconv.Atoi(strings.TrimSpace(ref.MessageID))
	if err != nil {
		return fmt.Errorf("messaging: invalid message id %q: %w", ref.MessageID, err)
	}
	_, err = s.send(ctx, "reply", ref.ChannelID, to, content, &kit.SendOptions{ReplyTo: mid})
	return err
}

// Snapshot returns recent delivery outcomes, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) send(ctx context.Context, kind, target string, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.adapter == nil {
		return kit.MessageRef{}, fmt.Errorf("%w: no transport", domain.ErrMessagingUnavailable)
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if opt.ParseMode == "" {
		opt.ParseMode = cfg.ParseMode
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return kit.MessageRef{}, err
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		ref, err := s.adapter.SendText(callCtx, to, text, opt)
		cancel()
		if err == nil {
			s.record(HistoryItem{At: time.Now(), Kind: kind, Target: target, Attempts: attempt})
			return ref, nil
		}
		if ctx.Err() != nil {
			return kit.MessageRef{}, ctx.Err()
		}
		lastErr = err
		s.log.Debug("send failed", logx.String("kind", kind), logx.String("target", target), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))

		if attempt == maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return kit.MessageRef{}, ctx.Err()
		}
	}

	now := time.Now()
	s.record(HistoryItem{At: now, Kind: kind, Target: target, Attempts: maxAttempts, Error: lastErr.Error()})
	s.log.Warn("message undeliverable", logx.String("kind", kind), logx.String("target", target), logx.Int("attempts", maxAttempts), logx.Err(lastErr))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeMessageFailed, Time: now, Data: FailureEvent{
			Kind: kind, Target: target, Attempts: maxAttempts, Error: lastErr.Error(), At: now,
		}})
	}
	return kit.MessageRef{}, fmt.Errorf("%w: %s to %s: %w", domain.ErrMessagingUnavailable, kind, target, lastErr)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// retryDelay doubles from RetryBase, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	return min(d, cfg.RetryMaxDelay)
}

var errEmptyTarget = errors.New("messaging: empty channel id")

// parseTarget accepts "<chat>" or "<chat>:<thread>".
func parseTarget(channelID string) (kit.ChatTarget, error) {
	s := strings.TrimSpace(channelID)
	if s == "" {
		return kit.ChatTarget{}, errEmptyTarget
	}
	chat, thread, hasThread := strings.Cut(s, ":")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("messaging: invalid channel id %q: %w", channelID, err)
	}
	to := kit.ChatTarget{ChatID: id}
	if hasThread {
		tid, err := strconv.Atoi(thread)
		if err != nil {
			return kit.ChatTarget{}, fmt.Errorf("messaging: invalid thread in %q: %w", channelID, err)
		}
		to.ThreadID = tid
	}
	return to, nil
}
