package timer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"focusd/internal/alert"
	"focusd/internal/clock"
	"focusd/internal/eventbus"
	"focusd/internal/storage"
	logx "focusd/pkg/logx"
)

// Config controls the engine.
type Config struct {
	Policy RecoveryPolicy
}

// Engine is the focus-timer state machine: work, short break, long break,
// cycling until the focused task is completed and the session is torn down.
//
// There is exactly one active session at a time (one global focus slot).
// The engine is an explicitly constructed object, not ambient state, so tests
// run multiple independent engines.
//
// Concurrency: a single mutex guards the in-memory state; store and alert
// calls happen outside it. Every state discard bumps a generation counter,
// and every code path that did I/O re-checks the generation before applying
// its result, so a pause or reset racing an in-flight write can never
// resurrect a discarded session.
type Engine struct {
	log logx.Logger
	clk clock.Clock
	kv  storage.Store
	al  AlertScheduler
	bus eventbus.Bus

	policy RecoveryPolicy

	mu      sync.Mutex
	gen     uint64
	running bool
	session Session

	taskID            string
	phase             Phase
	sessionsCompleted int
	// remaining caches the paused remainder; zero means "full phase duration
	// on the next Start". It is never persisted.
	remaining time.Duration
}

func New(cfg Config, kv storage.Store, al AlertScheduler, log logx.Logger, clk clock.Clock, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	policy := cfg.Policy
	if policy == "" {
		policy = ResumePersisted
	}
	return &Engine{
		log:    log,
		clk:    clk,
		kv:     kv,
		al:     al,
		bus:    bus,
		policy: policy,
		phase:  PhaseWork,
	}
}

// Snapshot is a point-in-time view for presentation layers.
type Snapshot struct {
	TaskID            string
	Phase             Phase
	Running           bool
	SessionsCompleted int
	Remaining         time.Duration
	EndTime           time.Time
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		TaskID:            e.taskID,
		Phase:             e.phase,
		Running:           e.running,
		SessionsCompleted: e.sessionsCompleted,
		Remaining:         e.remainingLocked(),
	}
	if e.running {
		snap.EndTime = e.session.EndTime()
	}
	return snap
}

// Start begins (or resumes) counting down the current phase for taskID.
// A session already running for the same task is a no-op; for a different
// task it is ErrBusy. Switching the focus target while idle resets the cycle.
func (e *Engine) Start(ctx context.Context, taskID string, d Durations) error {
	d = d.WithDefaults()

	e.mu.Lock()
	if e.running {
		same := e.taskID == taskID
		e.mu.Unlock()
		if same {
			return nil
		}
		return ErrBusy
	}
	if e.taskID != "" && e.taskID != taskID {
		e.phase = PhaseWork
		e.sessionsCompleted = 0
		e.remaining = 0
	}
	e.taskID = taskID

	rem := e.remaining
	if rem <= 0 {
		rem = d.ForPhase(e.phase)
	}
	now := e.clk.Now()
	sess := Session{
		TaskID:            taskID,
		Phase:             e.phase,
		EndTimeMS:         now.Add(rem).UnixMilli(),
		SessionsCompleted: e.sessionsCompleted,
	}
	e.running = true
	e.remaining = 0
	e.session = sess
	gen := e.gen
	e.mu.Unlock()

	// Side channels from here on; the state machine is already running.
	handle := e.scheduleAlert(ctx, sess)

	e.mu.Lock()
	if e.gen != gen {
		// Paused/reset while the schedule call was in flight; the discard wins.
		e.mu.Unlock()
		e.cancelAlert(ctx, handle)
		return nil
	}
	e.session.NotificationHandle = handle
	sess = e.session
	e.mu.Unlock()

	e.persistSession(ctx, sess, gen)
	e.publish("timer.started", sess)
	e.log.Debug("timer started",
		logx.String("task_id", taskID),
		logx.String("phase", string(sess.Phase)),
		logx.Duration("remaining", rem),
	)
	return nil
}

// Pause stops the countdown, caching the remaining time so Start resumes from
// it. The persisted record is deleted and the pending alert cancelled.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	rem := e.session.EndTime().Sub(e.clk.Now())
	if rem < 0 {
		rem = 0
	}
	handle := e.session.NotificationHandle
	sess := e.session
	e.remaining = rem
	e.running = false
	e.session = Session{}
	e.gen++
	e.mu.Unlock()

	e.cancelAlert(ctx, handle)
	e.deleteSession(ctx)
	e.publish("timer.paused", sess)
	e.log.Debug("timer paused", logx.String("task_id", sess.TaskID), logx.Duration("remaining", rem))
	return nil
}

// Remaining recomputes the time left from the absolute end timestamp. This is
// the only source of displayed remaining time; there is no decrementing
// counter anywhere, so suspended processes and missed ticks cannot drift it.
func (e *Engine) Remaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remainingLocked()
}

func (e *Engine) remainingLocked() time.Duration {
	if !e.running {
		return e.remaining
	}
	rem := e.session.EndTime().Sub(e.clk.Now())
	if rem < 0 {
		return 0
	}
	return rem
}

// RemainingSeconds is Remaining rounded up to whole seconds, matching what a
// countdown display shows.
func (e *Engine) RemainingSeconds() int {
	rem := e.Remaining()
	if rem <= 0 {
		return 0
	}
	return int((rem + time.Second - 1) / time.Second)
}

// CompletePhase finishes the running phase and advances the cycle. The engine
// goes idle presenting the next phase; a fresh session is not auto-started.
// Callers invoke it when RemainingSeconds() hits zero.
func (e *Engine) CompletePhase(ctx context.Context, d Durations) (Phase, error) {
	return e.advance(ctx, d, "timer.phase_completed")
}

// Skip forces the same transition as CompletePhase without waiting for the
// end time, cancelling the pending alert first. Skipping while idle advances
// the presented phase.
func (e *Engine) Skip(ctx context.Context, d Durations) (Phase, error) {
	d = d.WithDefaults()

	e.mu.Lock()
	if !e.running {
		e.phase, e.sessionsCompleted = nextPhase(e.phase, e.sessionsCompleted, d.SessionsBeforeLongBreak)
		e.remaining = 0
		next := e.phase
		taskID := e.taskID
		e.mu.Unlock()
		e.publish("timer.phase_completed", Session{TaskID: taskID, Phase: next})
		return next, nil
	}
	e.mu.Unlock()
	return e.advance(ctx, d, "timer.phase_completed")
}

func (e *Engine) advance(ctx context.Context, d Durations, event string) (Phase, error) {
	d = d.WithDefaults()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return "", ErrNotRunning
	}
	sess := e.session
	handle := sess.NotificationHandle
	e.phase, e.sessionsCompleted = nextPhase(e.phase, e.sessionsCompleted, d.SessionsBeforeLongBreak)
	next := e.phase
	count := e.sessionsCompleted
	e.running = false
	e.remaining = 0
	e.session = Session{}
	e.gen++
	e.mu.Unlock()

	// Cancel is a no-op when the alert already fired at end time; it matters
	// for Skip and for clock skew.
	e.cancelAlert(ctx, handle)
	e.deleteSession(ctx)
	e.publish(event, sess)
	e.log.Debug("phase completed",
		logx.String("task_id", sess.TaskID),
		logx.String("from", string(sess.Phase)),
		logx.String("next", string(next)),
		logx.Int("sessions_completed", count),
	)
	return next, nil
}

// Reset tears the timer down to a fresh work phase with a zero session count.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	var handle alert.Handle
	var sess Session
	if e.running {
		handle = e.session.NotificationHandle
		sess = e.session
	}
	e.running = false
	e.session = Session{}
	e.phase = PhaseWork
	e.sessionsCompleted = 0
	e.remaining = 0
	e.gen++
	e.mu.Unlock()

	e.cancelAlert(ctx, handle)
	e.deleteSession(ctx)
	e.publish("timer.reset", sess)
	return nil
}

// Teardown is Reset plus dropping the focus target; used when the focused
// task is completed or removed.
func (e *Engine) Teardown(ctx context.Context) error {
	err := e.Reset(ctx)
	e.mu.Lock()
	e.taskID = ""
	e.mu.Unlock()
	return err
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) SessionsCompleted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionsCompleted
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ---- best-effort side channels ----

func (e *Engine) scheduleAlert(ctx context.Context, sess Session) alert.Handle {
	if e.al == nil {
		return ""
	}
	h, err := e.al.Schedule(ctx, alert.Notice{
		Message: phaseMessage(sess.Phase),
		FireAt:  sess.EndTime(),
		TaskID:  sess.TaskID,
	})
	if err != nil {
		e.log.Warn("alert schedule failed; continuing without notification", logx.Err(err))
		return ""
	}
	return h
}

func (e *Engine) cancelAlert(ctx context.Context, h alert.Handle) {
	if e.al == nil || h == "" {
		return
	}
	if err := e.al.Cancel(ctx, h); err != nil {
		e.log.Warn("alert cancel failed", logx.String("handle", string(h)), logx.Err(err))
	}
}

func (e *Engine) persistSession(ctx context.Context, sess Session, gen uint64) {
	if e.kv == nil {
		return
	}
	b, err := json.Marshal(sess)
	if err != nil {
		e.log.Warn("session marshal failed", logx.Err(err))
		return
	}
	if err := e.kv.Set(ctx, SessionKey, b); err != nil {
		e.log.Warn("session persist failed; timer continues in memory", logx.Err(err))
		return
	}
	// A pause/reset may have raced this write; if so, re-delete so the
	// discarded session cannot resurrect on the next restart.
	e.mu.Lock()
	stale := e.gen != gen
	e.mu.Unlock()
	if stale {
		e.deleteSession(ctx)
	}
}

func (e *Engine) deleteSession(ctx context.Context) {
	if e.kv == nil {
		return
	}
	if err := e.kv.Delete(ctx, SessionKey); err != nil {
		e.log.Warn("session delete failed", logx.Err(err))
	}
}

func (e *Engine) publish(typ string, sess Session) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: sess})
}
