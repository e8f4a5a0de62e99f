package sweep

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"focusd/internal/alert"
	"focusd/internal/clock"
	"focusd/internal/eventbus"
	"focusd/internal/task"
	logx "focusd/pkg/logx"
)

// Config controls the periodic scans.
type Config struct {
	Enabled bool
	// OverdueSpec is the cron spec for the overdue scan.
	OverdueSpec string
	// DigestSpec is the cron spec for the due-today digest.
	DigestSpec string
	// Timezone is an IANA zone name; day boundaries and cron firing times are
	// evaluated in it. Empty means the process-local zone.
	Timezone string
}

const (
	defaultOverdueSpec = "*/15 * * * *"
	defaultDigestSpec  = "0 8 * * *"
	jobTimeout         = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.OverdueSpec) == "" {
		c.OverdueSpec = defaultOverdueSpec
	}
	if strings.TrimSpace(c.DigestSpec) == "" {
		c.DigestSpec = defaultDigestSpec
	}
	return c
}

// Dispatcher is the slice of the alert service the sweeper needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, n alert.Notice) error
}

// Service runs two cron-driven scans over the task collection: overdue
// detection and a once-a-day "due today" digest. Both are read-only over the
// store; their only outputs are alerts and bus events.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	tasks *task.Store
	al    Dispatcher
	bus   eventbus.Bus
	clk   clock.Clock

	cfg    Config
	parser cron.Parser
	loc    *time.Location
	c      *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc

	// Task IDs already alerted as overdue this run, so a task that stays
	// overdue across scans alerts once, not every 15 minutes.
	amu     sync.Mutex
	alerted map[string]struct{}
}

func New(cfg Config, tasks *task.Store, al Dispatcher, log logx.Logger, clk clock.Clock, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		log:     log,
		tasks:   tasks,
		al:      al,
		bus:     bus,
		clk:     clk,
		cfg:     cfg.withDefaults(),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		alerted: map[string]struct{}{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the config. A running service restarts its cron when the
// timezone or either spec changed.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.cfg.Timezone != cfg.Timezone ||
		s.cfg.OverdueSpec != cfg.OverdueSpec ||
		s.cfg.DigestSpec != cfg.DigestSpec
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if !cfg.Enabled {
		s.stopLocked()
		return
	}
	if changed {
		s.stopLocked()
		s.startLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.startLocked()
}

func (s *Service) startLocked() {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	if _, err := s.c.AddFunc(s.cfg.OverdueSpec, func() { s.runJob("overdue-scan", s.scanOverdue) }); err != nil {
		s.log.Warn("invalid overdue spec, scan disabled", logx.String("spec", s.cfg.OverdueSpec), logx.Err(err))
	}
	if _, err := s.c.AddFunc(s.cfg.DigestSpec, func() { s.runJob("due-digest", s.sendDigest) }); err != nil {
		s.log.Warn("invalid digest spec, digest disabled", logx.String("spec", s.cfg.DigestSpec), logx.Err(err))
	}

	s.c.Start()
	s.log.Info("sweep started",
		logx.String("tz", loc.String()),
		logx.String("overdue_spec", s.cfg.OverdueSpec),
		logx.String("digest_spec", s.cfg.DigestSpec),
	)
}

func (s *Service) Stop(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
		s.runCtx = nil
	}
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("sweep stopped")
}

func (s *Service) runJob(name string, job func(ctx context.Context) error) {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(runCtx, jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in sweep job", logx.String("job", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Warn("sweep job failed", logx.String("job", name), logx.Err(err))
		return
	}
	s.log.Debug("sweep job ok", logx.String("job", name), logx.Duration("took", time.Since(start)))
}

// scanOverdue alerts once per task that slipped past its due date. Tasks that
// stop being overdue (completed, rescheduled) drop out of the dedup set so a
// later slip alerts again.
func (s *Service) scanOverdue(ctx context.Context) error {
	now := s.clk.Now().In(s.location())
	overdue, err := s.tasks.OverdueAt(ctx, now)
	if err != nil {
		return err
	}

	current := make(map[string]struct{}, len(overdue))
	var fresh []task.Task
	s.amu.Lock()
	for _, t := range overdue {
		current[t.ID] = struct{}{}
		if _, seen := s.alerted[t.ID]; !seen {
			s.alerted[t.ID] = struct{}{}
			fresh = append(fresh, t)
		}
	}
	for id := range s.alerted {
		if _, still := current[id]; !still {
			delete(s.alerted, id)
		}
	}
	s.amu.Unlock()

	for _, t := range fresh {
		s.publish("task.overdue", t)
		s.dispatch(ctx, alert.Notice{
			Message: fmt.Sprintf("Overdue: %s", t.Title),
			TaskID:  t.ID,
		})
	}
	if len(fresh) > 0 {
		s.log.Info("overdue tasks found", logx.Int("new", len(fresh)), logx.Int("total", len(overdue)))
	}
	return nil
}

// sendDigest sends one summary notice listing everything due today. No tasks,
// no notice.
func (s *Service) sendDigest(ctx context.Context) error {
	day := s.clk.Now().In(s.location())
	due, err := s.tasks.DueOn(ctx, day)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	titles := make([]string, len(due))
	for i, t := range due {
		titles[i] = t.Title
		s.publish("task.due", t)
	}
	s.dispatch(ctx, alert.Notice{
		Message: fmt.Sprintf("Due today (%d): %s", len(due), strings.Join(titles, ", ")),
	})
	return nil
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) dispatch(ctx context.Context, n alert.Notice) {
	if s.al == nil {
		return
	}
	if err := s.al.Dispatch(ctx, n); err != nil {
		s.log.Warn("sweep notice dropped", logx.String("message", n.Message), logx.Err(err))
	}
}

func (s *Service) publish(typ string, t task.Task) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: t})
}
