package alert

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("alerts disabled")
	ErrQueueFull = errors.New("alert queue full")
	ErrStopped   = errors.New("alert service stopped")
)

// Notice is one user-facing alert.
type Notice struct {
	// Message is the full display text (e.g. "Focus session complete, time
	// for a break").
	Message string
	// FireAt is when the alert should be delivered. Zero means immediately.
	FireAt time.Time
	// TaskID optionally ties the notice to a task for event reporting.
	TaskID string
}

// Handle identifies one scheduled, not-yet-fired notice. It is opaque to
// callers and safe to persist (the timer engine stores it inside the session
// record so recovery can keep engine and alert state consistent).
type Handle string

// Sink delivers fired notices to one destination.
// Sink failures are logged and dropped; they never propagate to callers.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notice) error
}

// Config controls the delivery pipeline.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int
}
