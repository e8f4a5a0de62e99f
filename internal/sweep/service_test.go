package sweep

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"focusd/internal/alert"
	"focusd/internal/clock"
	"focusd/internal/task"
	logx "focusd/pkg/logx"
)

type memKV struct {
	mu sync.Mutex
	kv map[string][]byte
}

func newMemKV() *memKV { return &memKV{kv: map[string][]byte{}} }

func (s *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *memKV) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = append([]byte(nil), value...)
	return nil
}

func (s *memKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *memKV) Close() error { return nil }

type noticeRecorder struct {
	mu      sync.Mutex
	notices []alert.Notice
}

func (r *noticeRecorder) Dispatch(_ context.Context, n alert.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

func (r *noticeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

var sweepNow = time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *task.Store, *noticeRecorder, *clock.Fake) {
	t.Helper()
	tasks := task.NewStore(newMemKV(), logx.Nop())
	rec := &noticeRecorder{}
	clk := clock.NewFake(sweepNow)
	s := New(Config{Enabled: true}, tasks, rec, logx.Nop(), clk, nil)
	return s, tasks, rec, clk
}

func due(t time.Time) *time.Time { return &t }

func TestDefaultSpecsParse(t *testing.T) {
	t.Parallel()
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cfg := Config{}.withDefaults()
	for _, spec := range []string{cfg.OverdueSpec, cfg.DigestSpec} {
		if _, err := parser.Parse(spec); err != nil {
			t.Errorf("default spec %q does not parse: %v", spec, err)
		}
	}
}

func TestScanOverdueAlertsOncePerTask(t *testing.T) {
	t.Parallel()
	s, tasks, rec, clk := newTestService(t)
	ctx := context.Background()

	if err := tasks.Put(ctx, task.Task{ID: "t1", Title: "file taxes", DueDate: due(sweepNow.Add(-time.Hour))}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := tasks.Put(ctx, task.Task{ID: "t2", Title: "future", DueDate: due(sweepNow.Add(time.Hour))}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.scanOverdue(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("notices = %d, want 1", rec.count())
	}
	if got := rec.notices[0]; got.TaskID != "t1" || !strings.Contains(got.Message, "file taxes") {
		t.Fatalf("notice = %+v", got)
	}

	// A second scan over the same overdue task stays quiet.
	if err := s.scanOverdue(ctx); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("notices after rescan = %d, want 1", rec.count())
	}

	// The future task slipping past its due date alerts on the next scan.
	clk.Advance(2 * time.Hour)
	if err := s.scanOverdue(ctx); err != nil {
		t.Fatalf("scan after advance: %v", err)
	}
	if rec.count() != 2 {
		t.Fatalf("notices = %d, want 2", rec.count())
	}
}

func TestScanOverdueDedupResetsWhenTaskRecovers(t *testing.T) {
	t.Parallel()
	s, tasks, rec, _ := newTestService(t)
	ctx := context.Background()

	tk := task.Task{ID: "t1", Title: "water plants", DueDate: due(sweepNow.Add(-time.Hour))}
	if err := tasks.Put(ctx, tk); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.scanOverdue(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// Rescheduled into the future: drops out of the dedup set.
	tk.DueDate = due(sweepNow.Add(time.Hour))
	if err := tasks.Put(ctx, tk); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if err := s.scanOverdue(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// Slips again: alerts again.
	tk.DueDate = due(sweepNow.Add(-time.Minute))
	if err := tasks.Put(ctx, tk); err != nil {
		t.Fatalf("reslip: %v", err)
	}
	if err := s.scanOverdue(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rec.count() != 2 {
		t.Fatalf("notices = %d, want 2 (one per slip)", rec.count())
	}
}

func TestSendDigest(t *testing.T) {
	t.Parallel()
	s, tasks, rec, _ := newTestService(t)
	ctx := context.Background()

	// Nothing due: no notice at all.
	if err := s.sendDigest(ctx); err != nil {
		t.Fatalf("empty digest: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("notices = %d, want 0", rec.count())
	}

	endOfToday := time.Date(2024, time.March, 1, 23, 59, 59, 0, time.UTC)
	seeds := []task.Task{
		{ID: "t1", Title: "review PR", DueDate: due(endOfToday)},
		{ID: "t2", Title: "call dentist", DueDate: due(endOfToday)},
		{ID: "t3", Title: "tomorrow", DueDate: due(endOfToday.AddDate(0, 0, 1))},
	}
	for _, tk := range seeds {
		if err := tasks.Put(ctx, tk); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if err := s.sendDigest(ctx); err != nil {
		t.Fatalf("digest: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("notices = %d, want one summary", rec.count())
	}
	msg := rec.notices[0].Message
	if !strings.Contains(msg, "(2)") || !strings.Contains(msg, "review PR") || !strings.Contains(msg, "call dentist") {
		t.Fatalf("digest message = %q", msg)
	}
	if strings.Contains(msg, "tomorrow") {
		t.Fatalf("digest must only cover today, got %q", msg)
	}
}
