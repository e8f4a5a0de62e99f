// Package alert schedules and delivers one-shot user alerts.
//
// Two halves share one Service:
//
//   - Scheduling: Schedule() arms a wall-clock one-shot timer and returns an
//     opaque Handle; Cancel() disarms it. At most one outstanding handle is
//     tracked per timer session; the engine cancels before re-scheduling.
//   - Delivery: fired notices pass through a bounded queue, a worker pool and
//     a token-bucket rate limit, then fan out to the configured sinks.
//
// Everything here is best-effort by design: a failed schedule, cancel or sink
// delivery is logged and dropped. The timer state machine never blocks on it.
package alert
