package timer

import (
	"context"
	"encoding/json"
	"time"

	logx "focusd/pkg/logx"
)

// ResumeOutcome describes what Resume did with the persisted session.
type ResumeOutcome int

const (
	// ResumeNone: no persisted session existed.
	ResumeNone ResumeOutcome = iota
	// ResumeDiscardedPolicy: a session existed but the engine runs under
	// DiscardOnColdStart; record and notification were dropped together.
	ResumeDiscardedPolicy
	// ResumeDiscardedStale: the session belonged to a different task than the
	// one currently focused; discarded, not resumed.
	ResumeDiscardedStale
	// ResumeRunning: the session was still counting down and the engine
	// re-entered it with its remaining time. The persisted handle's timer
	// died with the previous process, so a fresh alert is armed for the
	// original end time.
	ResumeRunning
	// ResumeCompleted: the persisted end time had already passed, so exactly
	// one phase-completion transition was applied before returning. The
	// caller sees the post-transition phase, never the stale one.
	ResumeCompleted
)

// Result reports the state Resume left the engine in.
type Result struct {
	Outcome           ResumeOutcome
	Phase             Phase
	SessionsCompleted int
	Remaining         time.Duration
}

// Resume applies the recovery protocol after a process restart or foreground
// transition. focusedTaskID is the task the surrounding app currently has in
// the focus slot; a persisted session for any other task is stale.
//
// Resume must be called while the engine is idle (it is, by construction,
// right after process start). Calling it on a running engine is ErrBusy.
func (e *Engine) Resume(ctx context.Context, focusedTaskID string, d Durations) (Result, error) {
	d = d.WithDefaults()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Result{}, ErrBusy
	}
	e.mu.Unlock()

	sess, ok := e.loadSession(ctx)
	if !ok {
		return e.result(ResumeNone), nil
	}

	if e.policy == DiscardOnColdStart {
		e.cancelAlert(ctx, sess.NotificationHandle)
		e.deleteSession(ctx)
		e.log.Info("persisted session discarded (cold start policy)",
			logx.String("task_id", sess.TaskID),
			logx.String("phase", string(sess.Phase)),
		)
		return e.result(ResumeDiscardedPolicy), nil
	}

	if sess.TaskID != focusedTaskID {
		e.cancelAlert(ctx, sess.NotificationHandle)
		e.deleteSession(ctx)
		e.log.Warn("persisted session is for another task; discarding",
			logx.String("session_task", sess.TaskID),
			logx.String("focused_task", focusedTaskID),
		)
		return e.result(ResumeDiscardedStale), nil
	}

	now := e.clk.Now()
	remaining := sess.EndTime().Sub(now)

	if remaining > 0 {
		// The timer backing the persisted handle did not survive the previous
		// process. Cancel it (a no-op for a dead timer, real work for a
		// same-process foreground resume) and arm a fresh alert for the same
		// end time, so the notification stays consistent with the resumed
		// state.
		e.cancelAlert(ctx, sess.NotificationHandle)
		sess.NotificationHandle = ""

		e.mu.Lock()
		e.taskID = sess.TaskID
		e.phase = sess.Phase
		e.sessionsCompleted = sess.SessionsCompleted
		e.session = sess
		e.running = true
		e.remaining = 0
		gen := e.gen
		e.mu.Unlock()

		handle := e.scheduleAlert(ctx, sess)

		e.mu.Lock()
		if e.gen != gen {
			// Paused or reset while the schedule call was in flight.
			e.mu.Unlock()
			e.cancelAlert(ctx, handle)
			return e.result(ResumeRunning), nil
		}
		e.session.NotificationHandle = handle
		sess = e.session
		e.mu.Unlock()

		e.persistSession(ctx, sess, gen)
		e.publish("timer.resumed", sess)
		e.log.Info("timer resumed",
			logx.String("task_id", sess.TaskID),
			logx.String("phase", string(sess.Phase)),
			logx.Duration("remaining", remaining),
		)
		return e.result(ResumeRunning), nil
	}

	// The phase elapsed while we were away. Apply exactly one completion
	// transition from the persisted phase/count synchronously, before any UI
	// reads the engine, so the presented state is never stale.
	e.mu.Lock()
	e.taskID = sess.TaskID
	e.phase = sess.Phase
	e.sessionsCompleted = sess.SessionsCompleted
	e.session = sess
	e.running = true
	e.mu.Unlock()

	if _, err := e.CompletePhase(ctx, d); err != nil {
		return Result{}, err
	}
	e.log.Info("elapsed session completed on resume",
		logx.String("task_id", sess.TaskID),
		logx.String("elapsed_phase", string(sess.Phase)),
		logx.String("next_phase", string(e.Phase())),
	)
	return e.result(ResumeCompleted), nil
}

// loadSession reads and validates the persisted record. Malformed or invalid
// records read as "no session" and are cleaned up, never surfaced as errors.
func (e *Engine) loadSession(ctx context.Context) (Session, bool) {
	if e.kv == nil {
		return Session{}, false
	}
	b, ok, err := e.kv.Get(ctx, SessionKey)
	if err != nil {
		e.log.Warn("session load failed; treating as no session", logx.Err(err))
		return Session{}, false
	}
	if !ok {
		return Session{}, false
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		e.log.Warn("session record malformed; discarding", logx.Err(err))
		e.deleteSession(ctx)
		return Session{}, false
	}
	if sess.TaskID == "" || !sess.Phase.Valid() || sess.EndTimeMS <= 0 {
		e.log.Warn("session record invalid; discarding",
			logx.String("task_id", sess.TaskID),
			logx.String("phase", string(sess.Phase)),
		)
		e.deleteSession(ctx)
		return Session{}, false
	}
	return sess, true
}

func (e *Engine) result(outcome ResumeOutcome) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Result{
		Outcome:           outcome,
		Phase:             e.phase,
		SessionsCompleted: e.sessionsCompleted,
		Remaining:         e.remainingLocked(),
	}
}
