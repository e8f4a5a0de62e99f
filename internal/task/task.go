package task

import (
	"time"

	"github.com/google/uuid"

	"focusd/internal/recurrence"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Subtask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done,omitempty"`
}

// Reminder is a user-set alert for a task. Handle references the scheduled
// one-shot alert, if one is currently armed.
type Reminder struct {
	At     time.Time `json:"at"`
	Handle string    `json:"handle,omitempty"`
}

// Task carries the fields the core engines operate on. Presentation-only
// attributes (notes, tags, sort order) live with the consumer.
type Task struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	List     string   `json:"list,omitempty"`
	Priority Priority `json:"priority,omitempty"`

	DueDate    *time.Time          `json:"due_date,omitempty"`
	Recurrence *recurrence.Pattern `json:"recurrence,omitempty"`

	Subtasks  []Subtask  `json:"subtasks,omitempty"`
	Reminders []Reminder `json:"reminders,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

func New(title string) Task {
	return Task{
		ID:        uuid.NewString(),
		Title:     title,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
}

func (t Task) Archived() bool { return t.ArchivedAt != nil }

// Recurs reports whether the task has an active recurrence pattern.
func (t Task) Recurs() bool {
	return t.Recurrence != nil && t.Recurrence.Active()
}

// Regenerate builds the next instance of a recurring task: new identity, the
// given due date, subtask completion reset, reminders cleared. Text, list,
// priority and the pattern itself carry over.
func (t Task) Regenerate(due time.Time, now time.Time) Task {
	next := Task{
		ID:        uuid.NewString(),
		Title:     t.Title,
		List:      t.List,
		Priority:  t.Priority,
		DueDate:   &due,
		CreatedAt: now,
	}
	if t.Recurrence != nil {
		p := *t.Recurrence
		next.Recurrence = &p
	}
	if len(t.Subtasks) > 0 {
		next.Subtasks = make([]Subtask, len(t.Subtasks))
		for i, st := range t.Subtasks {
			st.Done = false
			next.Subtasks[i] = st
		}
	}
	// Reminders are intentionally not propagated; the new instance starts
	// with none.
	return next
}
