package timer

import (
	"context"
	"errors"
	"time"

	"focusd/internal/alert"
)

// SessionKey is the KV key holding the single active session record.
const SessionKey = "timer/session"

var (
	// ErrBusy is returned when a session is already running for a different task.
	ErrBusy = errors.New("timer busy with another task")
	// ErrNotRunning is returned by operations that require an active session.
	ErrNotRunning = errors.New("timer not running")
)

// Phase is one of the three timer states.
type Phase string

const (
	PhaseWork       Phase = "work"
	PhaseShortBreak Phase = "shortBreak"
	PhaseLongBreak  Phase = "longBreak"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseWork, PhaseShortBreak, PhaseLongBreak:
		return true
	}
	return false
}

// RecoveryPolicy decides whether a persisted session survives process death.
//
// Either way the notification scheduled at Start() fires independently of
// process lifetime; under ResumePersisted the resumed state stays consistent
// with it, under DiscardOnColdStart the handle is cancelled together with the
// record so alert and engine state never diverge.
type RecoveryPolicy string

const (
	// ResumePersisted re-enters a still-valid persisted session on restart.
	ResumePersisted RecoveryPolicy = "resume"
	// DiscardOnColdStart drops any persisted session on restart; the OS-level
	// alert is the only continuity signal.
	DiscardOnColdStart RecoveryPolicy = "discard"
)

// ParseRecoveryPolicy maps a config string to a policy, defaulting to resume.
func ParseRecoveryPolicy(s string) RecoveryPolicy {
	if s == string(DiscardOnColdStart) {
		return DiscardOnColdStart
	}
	return ResumePersisted
}

// Durations carries the user-configurable phase settings. It is passed into
// every operation that enters a phase, so a settings change mid-cycle is an
// explicit input rather than an ambient read.
type Durations struct {
	Work       time.Duration
	ShortBreak time.Duration
	LongBreak  time.Duration

	SessionsBeforeLongBreak int
}

func (d Durations) WithDefaults() Durations {
	if d.Work <= 0 {
		d.Work = 25 * time.Minute
	}
	if d.ShortBreak <= 0 {
		d.ShortBreak = 5 * time.Minute
	}
	if d.LongBreak <= 0 {
		d.LongBreak = 15 * time.Minute
	}
	if d.SessionsBeforeLongBreak <= 0 {
		d.SessionsBeforeLongBreak = 4
	}
	return d
}

func (d Durations) ForPhase(p Phase) time.Duration {
	switch p {
	case PhaseShortBreak:
		return d.ShortBreak
	case PhaseLongBreak:
		return d.LongBreak
	default:
		return d.Work
	}
}

// Session is the persisted record of one phase counting down. The end time is
// absolute wall-clock (epoch ms), never a duration: remaining time is always
// recomputed from it, which is what makes the timer survive suspension.
type Session struct {
	TaskID             string       `json:"task_id"`
	Phase              Phase        `json:"phase"`
	EndTimeMS          int64        `json:"end_time_ms"`
	SessionsCompleted  int          `json:"sessions_completed"`
	NotificationHandle alert.Handle `json:"notification_handle,omitempty"`
}

func (s Session) EndTime() time.Time { return time.UnixMilli(s.EndTimeMS) }

// AlertScheduler is the slice of the alert service the engine needs.
// All calls are best-effort: a failure never blocks a phase transition.
type AlertScheduler interface {
	Schedule(ctx context.Context, n alert.Notice) (alert.Handle, error)
	Cancel(ctx context.Context, h alert.Handle) error
}

// nextPhase applies the transition rule. From work the completed count
// increments and every sessionsBeforeLongBreak-th completion earns the long
// break; from either break the next phase is always work and the count is
// untouched.
func nextPhase(from Phase, completed, sessionsBeforeLongBreak int) (Phase, int) {
	if from == PhaseWork {
		completed++
		if sessionsBeforeLongBreak > 0 && completed%sessionsBeforeLongBreak == 0 {
			return PhaseLongBreak, completed
		}
		return PhaseShortBreak, completed
	}
	return PhaseWork, completed
}

func phaseMessage(p Phase) string {
	switch p {
	case PhaseShortBreak, PhaseLongBreak:
		return "Break finished. Ready to focus?"
	default:
		return "Focus session complete. Time for a break."
	}
}
