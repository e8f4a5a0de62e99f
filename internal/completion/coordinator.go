package completion

import (
	"context"
	"errors"
	"time"

	"focusd/internal/alert"
	"focusd/internal/clock"
	"focusd/internal/eventbus"
	"focusd/internal/recurrence"
	"focusd/internal/task"
	"focusd/internal/timer"
	logx "focusd/pkg/logx"
)

// ErrAlreadyCompleted is returned when the task is archived already.
var ErrAlreadyCompleted = errors.New("task already completed")

// Alerts is the slice of the alert service the coordinator needs: cancelling
// reminders armed for the completed instance. Best-effort.
type Alerts interface {
	Cancel(ctx context.Context, h alert.Handle) error
}

// FocusTimer lets the coordinator tear the timer down when the task it is
// focused on gets completed.
type FocusTimer interface {
	Snapshot() timer.Snapshot
	Teardown(ctx context.Context) error
}

// Config controls regeneration.
type Config struct {
	// AllowInterval gates interval multipliers (repeat every N units, N > 1).
	// When it returns false for a pattern, the interval collapses to 1 and the
	// task still regenerates on the base cadence. Nil allows every pattern.
	AllowInterval func(p recurrence.Pattern) bool
}

// Result reports what Complete did.
type Result struct {
	// Archived echoes the completed task after archiving.
	Archived task.Task
	// Next is the regenerated instance, nil for non-repeating tasks and for
	// series that ended.
	Next *task.Task
}

// Coordinator archives completed tasks and regenerates recurring ones.
//
// Archive and regeneration land in a single collection write, so an observer
// never sees the completed instance gone without its successor present.
type Coordinator struct {
	tasks *task.Store
	al    Alerts
	tmr   FocusTimer
	bus   eventbus.Bus
	clk   clock.Clock
	log   logx.Logger

	allowInterval func(p recurrence.Pattern) bool
}

func New(cfg Config, tasks *task.Store, al Alerts, tmr FocusTimer, log logx.Logger, clk clock.Clock, bus eventbus.Bus) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Coordinator{
		tasks:         tasks,
		al:            al,
		tmr:           tmr,
		bus:           bus,
		clk:           clk,
		log:           log,
		allowInterval: cfg.AllowInterval,
	}
}

// Complete marks the task done: archives it, cancels its armed reminders,
// regenerates the next instance for active recurrence patterns, and tears the
// focus timer down if it was running against this task.
func (c *Coordinator) Complete(ctx context.Context, taskID string) (Result, error) {
	t, ok, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, task.ErrNotFound
	}
	if t.Archived() {
		return Result{}, ErrAlreadyCompleted
	}

	now := c.clk.Now()

	// Reminders for the completed instance are dead either way; cancelling
	// them is best-effort cleanup, never a reason to fail the completion.
	c.cancelReminders(ctx, t)

	var next *task.Task
	if t.Recurs() {
		if due, ok := c.nextDue(*t.Recurrence, t.DueDate, now); ok {
			n := t.Regenerate(due, now)
			next = &n
		}
	}

	if err := c.tasks.CompleteSwap(ctx, t.ID, now, next); err != nil {
		return Result{}, err
	}
	t.ArchivedAt = &now

	c.publish("task.completed", t)
	if next != nil {
		c.publish("task.regenerated", *next)
		c.log.Info("recurring task regenerated",
			logx.String("task_id", t.ID),
			logx.String("next_id", next.ID),
			logx.Time("next_due", *next.DueDate),
		)
	} else {
		c.log.Info("task completed", logx.String("task_id", t.ID))
	}

	c.teardownTimer(ctx, t.ID)
	return Result{Archived: t, Next: next}, nil
}

// nextDue resolves the due date of the regenerated instance. The anchor is the
// completed instance's due date; a task that never had one anchors on the
// completion moment instead.
func (c *Coordinator) nextDue(p recurrence.Pattern, due *time.Time, now time.Time) (time.Time, bool) {
	if p.Interval > 1 && c.allowInterval != nil && !c.allowInterval(p) {
		p.Interval = 1
	}
	anchor := now
	if due != nil {
		anchor = *due
	}
	return recurrence.Next(p, anchor)
}

func (c *Coordinator) cancelReminders(ctx context.Context, t task.Task) {
	if c.al == nil {
		return
	}
	for _, r := range t.Reminders {
		if r.Handle == "" {
			continue
		}
		if err := c.al.Cancel(ctx, alert.Handle(r.Handle)); err != nil {
			c.log.Warn("reminder cancel failed",
				logx.String("task_id", t.ID),
				logx.String("handle", r.Handle),
				logx.Err(err),
			)
		}
	}
}

func (c *Coordinator) teardownTimer(ctx context.Context, taskID string) {
	if c.tmr == nil {
		return
	}
	if c.tmr.Snapshot().TaskID != taskID {
		return
	}
	if err := c.tmr.Teardown(ctx); err != nil {
		c.log.Warn("timer teardown failed", logx.String("task_id", taskID), logx.Err(err))
	}
}

func (c *Coordinator) publish(typ string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
