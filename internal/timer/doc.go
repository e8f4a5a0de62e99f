// Package timer implements the focus-timer engine.
//
// The engine is a three-phase state machine (work, short break, long break)
// anchored to an absolute wall-clock end timestamp. Remaining time is always
// recomputed from that timestamp, so backgrounding, suspension or a full
// process kill cannot drift the countdown. One session record persists in the
// KV store and one OS-level alert is armed per running phase; both are torn
// down together on pause, skip, completion and reset.
//
// Resume() is the recovery protocol: it validates the persisted record
// against the currently focused task, re-enters a still-ticking session with
// a freshly armed alert, and synchronously completes one that elapsed while
// the process was away.
// Whether a session survives process death at all is a RecoveryPolicy chosen
// at construction.
package timer
