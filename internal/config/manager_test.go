package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"storage": {"driver": "file", "path": "./state.db"},
		"timer": {
			"work_duration": "50m",
			"short_break_duration": "10m",
			"sessions_before_long_break": 3,
			"recovery_policy": "discard"
		},
		"alerts": {"enabled": true, "rate_per_sec": 5},
		"sweep": {"enabled": true, "timezone": "Asia/Jakarta"}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Timer.WorkDuration != "50m" || cfg.Timer.SessionsBeforeLongBreak != 3 {
		t.Fatalf("timer = %+v", cfg.Timer)
	}
	if cfg.Timer.RecoveryPolicy != "discard" {
		t.Fatalf("recovery_policy = %q", cfg.Timer.RecoveryPolicy)
	}
	if cfg.Alerts == nil || cfg.Alerts.RatePerSec != 5 {
		t.Fatalf("alerts = %+v", cfg.Alerts)
	}
	if cfg.Sweep == nil || cfg.Sweep.Timezone != "Asia/Jakarta" {
		t.Fatalf("sweep = %+v", cfg.Sweep)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./focusd.db
  busy_timeout: 5s
timer:
  work_duration: 25m
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Timer.WorkDuration != "25m" {
		t.Fatalf("timer = %+v", cfg.Timer)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"timer": {"work_minutes": 25}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown field should be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"timer": {}}{"timer": {}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("concatenated JSON should be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("timer.work_duration", " 25m "); err != nil || d != 25*time.Minute {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "25 minutes"); err == nil {
		t.Fatal("bad duration should error")
	}
	if _, err := ParseDurationField("x", "-5m"); err == nil {
		t.Fatal("negative duration should error")
	}
	if d, err := ParseDurationOrDefault("x", "", 5*time.Minute); err != nil || d != 5*time.Minute {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("config not delivered")
	}

	// A full buffer drops the oldest and keeps the newest.
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("expected the newest config after overflow")
	}
}
