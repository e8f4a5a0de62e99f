package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"focusd/internal/alert"
	"focusd/internal/completion"
	"focusd/internal/config"
	"focusd/internal/eventbus"
	"focusd/internal/storage"
	"focusd/internal/sweep"
	"focusd/internal/task"
	"focusd/internal/timer"
	logx "focusd/pkg/logx"
)

// App wires the config manager, storage, alert pipeline, timer engine, task
// store, completion coordinator and sweeper together, and owns their
// lifecycles.
type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	alerts  *alert.Service
	tasks   *task.Store
	engine  *timer.Engine
	coord   *completion.Coordinator
	sweeper *sweep.Service

	// Current timer durations, swapped on config reload. Engine operations
	// take them as an explicit input, so a reload affects the next phase, not
	// the one already counting down.
	dmu       sync.Mutex
	durations timer.Durations

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	alerts := alert.New(mapAlertsConfig(cfg), log.With(logx.String("comp", "alerts")), bus)
	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return nil, err
	}
	alerts.SetSinks(sinks...)

	durations, err := mapTimerDurations(cfg.Timer)
	if err != nil {
		return nil, err
	}

	tasks := task.NewStore(store, log.With(logx.String("comp", "tasks")))
	engine := timer.New(timer.Config{
		Policy: timer.ParseRecoveryPolicy(cfg.Timer.RecoveryPolicy),
	}, store, alerts, log.With(logx.String("comp", "timer")), nil, bus)
	coord := completion.New(completion.Config{}, tasks, alerts, engine,
		log.With(logx.String("comp", "completion")), nil, bus)
	sweeper := sweep.New(mapSweepConfig(cfg), tasks, alerts,
		log.With(logx.String("comp", "sweep")), nil, bus)

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		alerts:    alerts,
		tasks:     tasks,
		engine:    engine,
		coord:     coord,
		sweeper:   sweeper,
		durations: durations,
	}, nil
}

// Accessors for presentation layers (CLI, IPC, future UI).

func (a *App) Engine() *timer.Engine                { return a.engine }
func (a *App) Tasks() *task.Store                   { return a.tasks }
func (a *App) Coordinator() *completion.Coordinator { return a.coord }
func (a *App) Bus() eventbus.Bus                    { return a.bus }

// Durations returns the currently configured timer durations.
func (a *App) Durations() timer.Durations {
	a.dmu.Lock()
	defer a.dmu.Unlock()
	return a.durations
}

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if a.alerts.Enabled() {
		a.alerts.Start(a.runCtx)
	}
	if a.sweeper.Enabled() {
		a.sweeper.Start(a.runCtx)
	}

	a.resumeTimer(a.runCtx)

	// Hot-reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(a.runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(a.runCtx); err != nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	// Debug trace of core events.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-a.runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.runCancel != nil {
		a.runCancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("sweep", 2*time.Second, func(c context.Context) error { a.sweeper.Stop(c); return nil })
	step("alerts", 3*time.Second, func(c context.Context) error { a.alerts.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("background loops still draining at shutdown deadline")
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// resumeTimer applies the engine recovery protocol at startup. The focused
// task is whatever the persisted session points at, gated through the task
// store: a session for an archived or deleted task resolves as stale.
func (a *App) resumeTimer(ctx context.Context) {
	focused := a.focusedTaskID(ctx)
	res, err := a.engine.Resume(ctx, focused, a.Durations())
	if err != nil {
		a.log.Warn("timer resume failed", logx.Err(err))
		return
	}
	switch res.Outcome {
	case timer.ResumeNone:
	case timer.ResumeRunning:
		a.log.Info("timer session resumed",
			logx.String("phase", string(res.Phase)),
			logx.Duration("remaining", res.Remaining),
		)
	case timer.ResumeCompleted:
		a.log.Info("timer session elapsed while stopped; cycle advanced",
			logx.String("phase", string(res.Phase)),
		)
	default:
		a.log.Info("persisted timer session discarded")
	}
}

func (a *App) focusedTaskID(ctx context.Context) string {
	if a.store == nil {
		return ""
	}
	b, ok, err := a.store.Get(ctx, timer.SessionKey)
	if err != nil || !ok {
		return ""
	}
	var sess struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(b, &sess); err != nil || sess.TaskID == "" {
		return ""
	}
	t, found, err := a.tasks.Get(ctx, sess.TaskID)
	if err != nil || !found || t.Archived() {
		return ""
	}
	return t.ID
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(ctx, cfg)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if d, err := mapTimerDurations(cfg.Timer); err != nil {
		a.log.Warn("invalid timer config; keeping previous", logx.Err(err))
	} else {
		a.dmu.Lock()
		a.durations = d
		a.dmu.Unlock()
	}
	prevAlerts := a.alerts.Enabled()
	a.alerts.Apply(mapAlertsConfig(cfg))
	if sinks, err := buildSinks(cfg, a.log); err != nil {
		a.log.Warn("invalid alert sink config; keeping previous sinks", logx.Err(err))
	} else {
		a.alerts.SetSinks(sinks...)
	}
	if prevAlerts && !a.alerts.Enabled() {
		a.log.Info("alerts disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.alerts.Stop(stopCtx)
		cancel()
	} else if !prevAlerts && a.alerts.Enabled() {
		a.log.Info("alerts enabled via config")
		a.alerts.Start(ctx)
	}

	prevSweep := a.sweeper.Enabled()
	a.sweeper.Apply(mapSweepConfig(cfg))
	if !prevSweep && a.sweeper.Enabled() {
		a.sweeper.Start(ctx)
	}

	a.log.Info("config reloaded")
}

// ---- config mapping ----

func validate(cfg *config.Config) error {
	if _, err := mapTimerDurations(cfg.Timer); err != nil {
		return err
	}
	if cfg.Timer.SessionsBeforeLongBreak < 0 {
		return fmt.Errorf("timer.sessions_before_long_break must be >= 0")
	}
	if p := strings.TrimSpace(cfg.Timer.RecoveryPolicy); p != "" {
		if p != string(timer.ResumePersisted) && p != string(timer.DiscardOnColdStart) {
			return fmt.Errorf("timer.recovery_policy: unknown value %q", p)
		}
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg.Sweep != nil {
		if tz := strings.TrimSpace(cfg.Sweep.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("sweep.timezone: invalid %q: %w", tz, err)
			}
		}
	}
	if cfg.Alerts != nil && cfg.Alerts.Telegram != nil {
		if strings.TrimSpace(cfg.Alerts.Telegram.Token) == "" {
			return fmt.Errorf("alerts.telegram.token is required when the sink is configured")
		}
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapTimerDurations(tc config.TimerConfig) (timer.Durations, error) {
	work, err := config.ParseDurationField("timer.work_duration", tc.WorkDuration)
	if err != nil {
		return timer.Durations{}, err
	}
	short, err := config.ParseDurationField("timer.short_break_duration", tc.ShortBreakDuration)
	if err != nil {
		return timer.Durations{}, err
	}
	long, err := config.ParseDurationField("timer.long_break_duration", tc.LongBreakDuration)
	if err != nil {
		return timer.Durations{}, err
	}
	return timer.Durations{
		Work:                    work,
		ShortBreak:              short,
		LongBreak:               long,
		SessionsBeforeLongBreak: tc.SessionsBeforeLongBreak,
	}.WithDefaults(), nil
}

func mapAlertsConfig(cfg *config.Config) alert.Config {
	if cfg.Alerts == nil {
		// Alerts default on: the log sink alone still records every fire.
		return alert.Config{Enabled: true}
	}
	return alert.Config{
		Enabled:    cfg.Alerts.Enabled,
		Workers:    cfg.Alerts.Workers,
		QueueSize:  cfg.Alerts.QueueSize,
		RatePerSec: cfg.Alerts.RatePerSec,
	}
}

func buildSinks(cfg *config.Config, log logx.Logger) ([]alert.Sink, error) {
	sinks := []alert.Sink{alert.NewLogSink(log.With(logx.String("comp", "alerts")))}
	if cfg.Alerts != nil && cfg.Alerts.Telegram != nil {
		tg, err := alert.NewTelegramSink(alert.TelegramConfig{
			Token:  cfg.Alerts.Telegram.Token,
			ChatID: cfg.Alerts.Telegram.ChatID,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, tg)
	}
	return sinks, nil
}

func mapSweepConfig(cfg *config.Config) sweep.Config {
	if cfg.Sweep == nil {
		return sweep.Config{}
	}
	return sweep.Config{
		Enabled:     cfg.Sweep.Enabled,
		OverdueSpec: cfg.Sweep.OverdueSpec,
		DigestSpec:  cfg.Sweep.DigestSpec,
		Timezone:    cfg.Sweep.Timezone,
	}
}
