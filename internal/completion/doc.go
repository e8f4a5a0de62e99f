// Package completion coordinates what happens when a task is marked done:
// archive the instance, cancel its reminders, regenerate the next instance
// for recurring tasks, and release the focus timer if it was running against
// the completed task. Archive and regeneration are one storage write.
package completion
