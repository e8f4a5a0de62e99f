package alert

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"focusd/internal/eventbus"
	logx "focusd/pkg/logx"
)

// Service implements the alert pipeline: one-shot scheduling plus an async
// delivery path (queue + worker pool + rate limit + sink fanout).
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	sinks   []Sink

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Notice
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// Pending one-shot timers, keyed by handle.
	tmu     sync.Mutex
	pending map[Handle]*pendingNotice
}

type pendingNotice struct {
	timer  *time.Timer
	notice Notice
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	s := &Service{
		log:     log,
		bus:     bus,
		pending: map[Handle]*pendingNotice{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetSinks replaces the sink set. Intended for startup and config reload.
func (s *Service) SetSinks(sinks ...Sink) {
	s.mu.Lock()
	s.sinks = append([]Sink(nil), sinks...)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		// already running
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Notice, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in alert worker", logx.Int("worker", i), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop cancels pending timers, stops intake and drains the queue best-effort
// until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	// Stop pending one-shot timers first so nothing new lands in the queue.
	s.tmu.Lock()
	for h, p := range s.pending {
		_ = p.timer.Stop()
		delete(s.pending, h)
	}
	s.tmu.Unlock()

	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	// Block new dispatches.
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()
}

// Dispatch enqueues a notice for immediate delivery.
func (s *Service) Dispatch(ctx context.Context, n Notice) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- n:
		return nil
	default:
		s.log.Warn("alert queue full, dropping notice", logx.String("message", n.Message))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop() {
	// Copy stable references.
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for n := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		s.deliver(runCtx, n)
	}
}

func (s *Service) deliver(runCtx context.Context, n Notice) {
	s.mu.Lock()
	lim := s.limiter
	sinks := s.sinks
	s.mu.Unlock()

	if lim != nil {
		wctx := runCtx
		if wctx == nil {
			wctx = context.Background()
		}
		if err := lim.Wait(wctx); err != nil {
			return
		}
	}

	for _, sink := range sinks {
		callCtx := runCtx
		if callCtx == nil {
			callCtx = context.Background()
		}
		// Bound per-sink call. Keep tight to avoid hanging workers.
		callCtx, cancel := context.WithTimeout(callCtx, 10*time.Second)
		err := sink.Deliver(callCtx, n)
		cancel()
		if err != nil {
			s.log.Warn("alert sink delivery failed",
				logx.String("sink", sink.Name()),
				logx.String("message", n.Message),
				logx.Err(err),
			)
		}
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "alert.delivered", Data: n})
	}
}
