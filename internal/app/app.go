// Package app wires the standup engine together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"standupbot/internal/config"
	"standupbot/internal/eventbus"
	"standupbot/internal/httpapi"
	"standupbot/internal/intake"
	"standupbot/internal/messaging"
	"standupbot/internal/reconcile"
	"standupbot/internal/registry"
	"standupbot/internal/reminder"
	"standupbot/internal/runtime/supervisor"
	"standupbot/internal/standup"
	"standupbot/internal/storage"
	"standupbot/internal/task/engine"
	kit "standupbot/internal/transport"
	telegram "standupbot/internal/transport/telegram/adapter"
	logx "standupbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter kit.Adapter
	engine  *engine.Service
	cron    *cron.Cron
	reg     *registry.Registry
	msg     *messaging.Service
	recon   *reconcile.Reconciler
	intake  *intake.Service

	ops     *httpapi.Handler
	opsSrv  *httpapi.Server
	notify  func(state string)
	updates chan kit.Update
}

// NewApp loads configuration (file plus STANDUP_* environment) and builds
// every component. Nothing runs until Start.
func NewApp(ctx context.Context, cfgPath string, envFiles ...string) (*App, error) {
	env, err := config.LoadEnv(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetOverlay(env.Overlay)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, errors.New("telegram token missing (telegram.token or STANDUP_TELEGRAM_TOKEN)")
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	sset, err := mapStandup(cfg)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	scfg, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, scfg, log.With(logx.String("comp", "storage")), bus)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", scfg.Driver))

	engCfg, err := mapTaskEngine(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	eng := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	mcfg, err := mapMessaging(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	msg := messaging.New(mcfg, ad, log.With(logx.String("comp", "messaging")), bus)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		msg:     msg,
		notify:  sdNotify(log),
		updates: make(chan kit.Update, 256),
	}
	a.wire(sset, cfg.HTTP != nil && cfg.HTTP.Pprof)

	if hc := cfg.HTTP; hc != nil && strings.TrimSpace(hc.Addr) != "" {
		rht, err := config.ParseDurationField("http.read_header_timeout", hc.ReadHeaderTimeout)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.opsSrv = httpapi.NewServer(hc.Addr, rht, a.ops.Routes(), log.With(logx.String("comp", "http")))
	}
	return a, nil
}

// wire connects the scheduling pipeline: cron fires registry entries onto the
// task engine, the runner posts prompts and plans reminder checkpoints.
func (a *App) wire(sset standupSettings, pprof bool) {
	a.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{log: a.log.With(logx.String("comp", "cron"))})),
	)
	a.reg = registry.New(registry.Config{
		DefaultTimezone: sset.DefaultTimezone,
		TaskTimeout:     sset.TaskTimeout,
	}, a.cron, a.engine, a.log.With(logx.String("comp", "registry")))

	esc := reminder.New(a.reg, a.store, a.store, a.msg, sset.DefaultTimezone, a.log.With(logx.String("comp", "reminder")))
	runner := standup.NewRunner(a.reg, a.store, a.msg, esc, a.log.With(logx.String("comp", "standup")))
	a.reg.SetHandler(runner.Fire)

	a.recon = reconcile.New(reconcile.Config{
		DefaultTimezone: sset.DefaultTimezone,
		Shards:          sset.Shards,
	}, a.store, a.store, a.store, a.reg, a.log.With(logx.String("comp", "reconcile")))
	a.intake = intake.New(a.store, a.store, a.msg, a.log.With(logx.String("comp", "intake")))

	a.ops = httpapi.NewHandler(httpapi.Deps{
		Teams:     a.store,
		Instances: a.store,
		Schedules: a.reg,
		Store:     a.store,
		Log:       a.log.With(logx.String("comp", "http")),
		Pprof:     pprof,
	})
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start subscribes the change feed and runs the bootstrap sweep
// synchronously, then hands the feed, reply intake and ops server to the
// supervisor. Readiness (systemd and /readyz) is signaled once the sweep is
// done.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.engine.Start(run)
	a.cron.Start()
	if a.opsSrv != nil {
		a.sup.Go("http.ops", a.opsSrv.Run)
	}

	n, err := a.recon.Prime(run)
	if err != nil {
		return err
	}
	a.ops.SetReady(true)
	a.notify(sdReady)
	a.log.Info("bootstrap sweep done", logx.Int("scheduled", n))

	a.sup.GoRestart("reconcile.feed", a.recon.Run,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
	)

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go("intake.replies", func(c context.Context) error {
		return a.intake.Run(c, a.updates)
	})

	a.watchEvents()
	a.watchConfig()

	a.log.Info("app started")
	return nil
}

// watchEvents logs failures other components publish on the bus.
func (a *App) watchEvents() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch e.Type {
				case eventbus.TypeMessageFailed, eventbus.TypeTaskFailed, eventbus.TypeTaskDropped:
					a.log.Warn("event", logx.String("type", e.Type), logx.Any("data", e.Data))
				default:
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		}
	})
}

// watchConfig applies logging and messaging changes live. Other sections
// are reported as needing a restart.
func (a *App) watchConfig() {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, restart, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.logs.Apply(mapLogging(next))
	if mcfg, err := mapMessaging(next); err != nil {
		a.log.Warn("invalid messaging config; keeping previous", logx.Err(err))
	} else {
		a.msg.Apply(mcfg)
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if restart {
		a.log.Warn("some config changes take effect after restart", logx.Strings("sections", sections))
	}
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(sdStopping)
	a.ops.SetReady(false)
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(sctx.Err()))
		}
	}

	step("cron", 2*time.Second, func(c context.Context) error {
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
