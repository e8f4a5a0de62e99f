// Package sweep periodically scans the task collection on cron schedules:
// an overdue scan that alerts once per newly overdue task, and a daily digest
// listing what is due today.
package sweep
