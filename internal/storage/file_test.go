package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	logx "focusd/pkg/logx"
)

func openTestFileStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return st
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestFileStore(t, dir)
	if err := st.Set(ctx, "timer/session", []byte(`{"phase":"work"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.Set(ctx, "tasks", []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.Set(ctx, "tasks", []byte(`[{"id":"t1"}]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	v, ok, err := st.Get(ctx, "tasks")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, []byte(`[{"id":"t1"}]`)) {
		t.Fatalf("value = %s", v)
	}
	if _, ok, _ := st.Get(ctx, "missing"); ok {
		t.Fatal("missing key should read as absent")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// State survives reopen via snapshot + journal replay.
	st2 := openTestFileStore(t, dir)
	v, ok, err = st2.Get(ctx, "timer/session")
	if err != nil || !ok {
		t.Fatalf("get after reopen: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, []byte(`{"phase":"work"}`)) {
		t.Fatalf("value after reopen = %s", v)
	}

	if err := st2.Delete(ctx, "timer/session"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Deletion survives too.
	st3 := openTestFileStore(t, dir)
	defer st3.Close()
	if _, ok, _ := st3.Get(ctx, "timer/session"); ok {
		t.Fatal("deleted key resurrected across restart")
	}
	if _, ok, _ := st3.Get(ctx, "tasks"); !ok {
		t.Fatal("untouched key lost across restart")
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
