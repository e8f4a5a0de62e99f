package timer

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func seedSession(t *testing.T, kv *fakeStore, sess Session) {
	t.Helper()
	b, err := json.Marshal(sess)
	if err != nil {
		t.Fatalf("marshal seed session: %v", err)
	}
	if err := kv.Set(context.Background(), SessionKey, b); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestResumeNoSession(t *testing.T) {
	t.Parallel()
	e, _, al, _ := newTestEngine(ResumePersisted)

	res, err := e.Resume(context.Background(), "task-1", testDurations())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Outcome != ResumeNone {
		t.Fatalf("outcome = %d, want ResumeNone", res.Outcome)
	}
	if res.Phase != PhaseWork || res.SessionsCompleted != 0 {
		t.Fatalf("result = %+v, want fresh work cycle", res)
	}
	if al.scheduledCount() != 0 {
		t.Fatal("no alerts should be scheduled")
	}
}

func TestResumeStillRunningRearmsAlert(t *testing.T) {
	t.Parallel()
	e, kv, al, clk := newTestEngine(ResumePersisted)

	// A work session persisted by a previous process, 12 minutes still to go.
	// The handle it carries belonged to that process and backs nothing now.
	endMS := clk.Now().Add(12 * time.Minute).UnixMilli()
	seedSession(t, kv, Session{
		TaskID:             "task-1",
		Phase:              PhaseWork,
		EndTimeMS:          endMS,
		SessionsCompleted:  2,
		NotificationHandle: "h-prev",
	})

	res, err := e.Resume(context.Background(), "task-1", testDurations())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Outcome != ResumeRunning {
		t.Fatalf("outcome = %d, want ResumeRunning", res.Outcome)
	}
	if res.Phase != PhaseWork || res.SessionsCompleted != 2 {
		t.Fatalf("result = %+v, want persisted phase/count", res)
	}
	if res.Remaining != 12*time.Minute {
		t.Fatalf("remaining = %v, want 12m", res.Remaining)
	}
	if !e.Running() {
		t.Fatal("engine should be running after resume")
	}

	// The dead handle is cancelled and exactly one fresh alert is armed for
	// the original end time; the resumed session must not end up unalerted.
	if !al.wasCancelled("h-prev") {
		t.Fatal("stale handle should be cancelled")
	}
	if al.scheduledCount() != 1 {
		t.Fatalf("scheduled = %d, want 1 fresh alert", al.scheduledCount())
	}
	if got := al.scheduled[0].notice.FireAt.UnixMilli(); got != endMS {
		t.Fatalf("fresh alert fire_at = %d, want original end %d", got, endMS)
	}

	// The persisted record now carries the fresh handle.
	sess, ok := kv.session(t)
	if !ok {
		t.Fatal("session record should still be persisted")
	}
	if sess.EndTimeMS != endMS {
		t.Fatalf("persisted end_time_ms = %d, want unchanged %d", sess.EndTimeMS, endMS)
	}
	if sess.NotificationHandle != al.scheduled[0].handle {
		t.Fatalf("persisted handle = %q, want fresh %q", sess.NotificationHandle, al.scheduled[0].handle)
	}
}

func TestResumeElapsedCompletesExactlyOnce(t *testing.T) {
	t.Parallel()
	e, kv, al, clk := newTestEngine(ResumePersisted)

	// The third work session ended an hour ago while the process was dead.
	seedSession(t, kv, Session{
		TaskID:             "task-1",
		Phase:              PhaseWork,
		EndTimeMS:          clk.Now().Add(-time.Hour).UnixMilli(),
		SessionsCompleted:  3,
		NotificationHandle: "h-prev",
	})

	res, err := e.Resume(context.Background(), "task-1", testDurations())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Outcome != ResumeCompleted {
		t.Fatalf("outcome = %d, want ResumeCompleted", res.Outcome)
	}
	// Exactly one transition: work #4 completed, long break presented.
	if res.Phase != PhaseLongBreak {
		t.Fatalf("phase = %s, want longBreak", res.Phase)
	}
	if res.SessionsCompleted != 4 {
		t.Fatalf("sessions completed = %d, want 4", res.SessionsCompleted)
	}
	if e.Running() {
		t.Fatal("engine must be idle after the synchronous completion")
	}
	if _, ok := kv.session(t); ok {
		t.Fatal("elapsed session record should be deleted")
	}
	// The old handle is cancelled (no-op if it already fired), nothing new armed.
	if !al.wasCancelled("h-prev") {
		t.Fatal("stale handle should be cancelled")
	}
	if al.scheduledCount() != 0 {
		t.Fatal("no new alert should be scheduled by resume")
	}
}

func TestResumeDiscardPolicy(t *testing.T) {
	t.Parallel()
	e, kv, al, clk := newTestEngine(DiscardOnColdStart)

	seedSession(t, kv, Session{
		TaskID:             "task-1",
		Phase:              PhaseWork,
		EndTimeMS:          clk.Now().Add(10 * time.Minute).UnixMilli(),
		SessionsCompleted:  1,
		NotificationHandle: "h-prev",
	})

	res, err := e.Resume(context.Background(), "task-1", testDurations())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Outcome != ResumeDiscardedPolicy {
		t.Fatalf("outcome = %d, want ResumeDiscardedPolicy", res.Outcome)
	}
	if e.Running() {
		t.Fatal("engine must stay idle under the discard policy")
	}
	if _, ok := kv.session(t); ok {
		t.Fatal("record should be deleted")
	}
	// Record and notification are dropped together so they cannot diverge.
	if !al.wasCancelled("h-prev") {
		t.Fatal("notification should be cancelled with the record")
	}
}

func TestResumeStaleTask(t *testing.T) {
	t.Parallel()
	e, kv, al, clk := newTestEngine(ResumePersisted)

	seedSession(t, kv, Session{
		TaskID:             "task-old",
		Phase:              PhaseShortBreak,
		EndTimeMS:          clk.Now().Add(3 * time.Minute).UnixMilli(),
		NotificationHandle: "h-prev",
	})

	res, err := e.Resume(context.Background(), "task-new", testDurations())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Outcome != ResumeDiscardedStale {
		t.Fatalf("outcome = %d, want ResumeDiscardedStale", res.Outcome)
	}
	if e.Running() {
		t.Fatal("a stale session must not be resumed")
	}
	if _, ok := kv.session(t); ok {
		t.Fatal("stale record should be deleted")
	}
	if !al.wasCancelled("h-prev") {
		t.Fatal("stale notification should be cancelled")
	}
}

func TestResumeMalformedRecord(t *testing.T) {
	t.Parallel()
	e, kv, _, _ := newTestEngine(ResumePersisted)
	ctx := context.Background()

	if err := kv.Set(ctx, SessionKey, []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := e.Resume(ctx, "task-1", testDurations())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Outcome != ResumeNone {
		t.Fatalf("outcome = %d, want ResumeNone (malformed reads as absent)", res.Outcome)
	}
	if _, ok := kv.session(t); ok {
		t.Fatal("malformed record should be cleaned up")
	}
}

func TestResumeInvalidRecord(t *testing.T) {
	t.Parallel()
	e, kv, _, clk := newTestEngine(ResumePersisted)

	// Parses, but the phase is not one of ours.
	seedSession(t, kv, Session{
		TaskID:    "task-1",
		Phase:     Phase("nap"),
		EndTimeMS: clk.Now().Add(time.Minute).UnixMilli(),
	})

	res, err := e.Resume(context.Background(), "task-1", testDurations())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Outcome != ResumeNone {
		t.Fatalf("outcome = %d, want ResumeNone", res.Outcome)
	}
	if _, ok := kv.session(t); ok {
		t.Fatal("invalid record should be cleaned up")
	}
}

func TestResumeWhileRunning(t *testing.T) {
	t.Parallel()
	e, _, _, _ := newTestEngine(ResumePersisted)
	ctx := context.Background()

	if err := e.Start(ctx, "task-1", testDurations()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Resume(ctx, "task-1", testDurations()); err != ErrBusy {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}
