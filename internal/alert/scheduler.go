package alert

import (
	"context"
	"time"

	"github.com/google/uuid"

	logx "focusd/pkg/logx"
)

// Schedule arms a one-shot timer that dispatches the notice at n.FireAt and
// returns an opaque handle for it. A notice in the past fires immediately.
//
// At most one fired dispatch per handle: Cancel() before the timer fires wins
// over a concurrently running callback because the callback re-checks the
// pending map before dispatching.
func (s *Service) Schedule(ctx context.Context, n Notice) (Handle, error) {
	_ = ctx

	s.mu.Lock()
	enabled := s.cfg.Enabled
	s.mu.Unlock()
	if !enabled {
		return "", ErrDisabled
	}

	h := Handle(uuid.NewString())
	delay := time.Until(n.FireAt)
	if delay < 0 {
		delay = 0
	}

	p := &pendingNotice{notice: n}
	s.tmu.Lock()
	s.pending[h] = p
	p.timer = time.AfterFunc(delay, func() {
		// If the handle was cancelled or replaced, ignore this callback.
		s.tmu.Lock()
		cur, ok := s.pending[h]
		if !ok || cur != p {
			s.tmu.Unlock()
			return
		}
		delete(s.pending, h)
		s.tmu.Unlock()

		if err := s.Dispatch(context.Background(), n); err != nil {
			s.log.Warn("scheduled alert dispatch failed", logx.String("handle", string(h)), logx.Err(err))
		}
	})
	s.tmu.Unlock()

	s.log.Debug("alert scheduled",
		logx.String("handle", string(h)),
		logx.Time("fire_at", n.FireAt),
		logx.Duration("in", delay),
	)
	return h, nil
}

// Cancel disarms the handle's timer. Cancelling an unknown or already-fired
// handle is a no-op, not an error: the caller only cares that nothing fires
// after Cancel returns.
func (s *Service) Cancel(ctx context.Context, h Handle) error {
	_ = ctx
	if h == "" {
		return nil
	}

	s.tmu.Lock()
	p, ok := s.pending[h]
	if ok {
		_ = p.timer.Stop()
		delete(s.pending, h)
	}
	s.tmu.Unlock()

	if ok {
		s.log.Debug("alert cancelled", logx.String("handle", string(h)))
	}
	return nil
}

// PendingCount reports the number of armed one-shot timers.
func (s *Service) PendingCount() int {
	s.tmu.Lock()
	n := len(s.pending)
	s.tmu.Unlock()
	return n
}
