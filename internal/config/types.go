package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Timer controls the focus-timer phase durations and the recovery policy
	// applied to a session persisted across process restarts.
	Timer TimerConfig `json:"timer"`

	// Alerts controls the one-shot alert delivery pipeline.
	// If the whole section is omitted, alerts default to enabled with the
	// log sink only.
	Alerts *AlertsConfig `json:"alerts,omitempty"`

	// Sweep controls the periodic due-date scans.
	Sweep *SweepConfig `json:"sweep,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./focusd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TimerConfig mirrors the user-facing timer settings.
//
// All durations are Go duration strings (e.g. "25m", "5m").
//
// Defaults (when fields are omitted/zero):
//   - work_duration: "25m"
//   - short_break_duration: "5m"
//   - long_break_duration: "15m"
//   - sessions_before_long_break: 4
//   - recovery_policy: "resume"
type TimerConfig struct {
	WorkDuration       string `json:"work_duration,omitempty"`
	ShortBreakDuration string `json:"short_break_duration,omitempty"`
	LongBreakDuration  string `json:"long_break_duration,omitempty"`

	SessionsBeforeLongBreak int `json:"sessions_before_long_break,omitempty"`

	// RecoveryPolicy is "resume" (a persisted session survives process death)
	// or "discard" (cold starts always discard; the OS alert scheduled at
	// start remains the only continuity signal).
	RecoveryPolicy string `json:"recovery_policy,omitempty"`
}

// AlertsConfig controls the async alert delivery pipeline.
type AlertsConfig struct {
	Enabled    bool `json:"enabled"`
	Workers    int  `json:"workers,omitempty"`
	QueueSize  int  `json:"queue_size,omitempty"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`

	// Telegram enables the optional send-only Telegram sink.
	Telegram *TelegramSinkConfig `json:"telegram,omitempty"`
}

type TelegramSinkConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// SweepConfig controls the cron-driven due-date scans.
//
// Specs accept standard 5-field cron expressions or descriptors
// ("@hourly", "@every 10m").
type SweepConfig struct {
	Enabled     bool   `json:"enabled"`
	OverdueSpec string `json:"overdue_spec,omitempty"` // default: "*/15 * * * *"
	DigestSpec  string `json:"digest_spec,omitempty"`  // default: "0 8 * * *"
	Timezone    string `json:"timezone,omitempty"`     // IANA TZ, e.g. "Asia/Jakarta"
}
