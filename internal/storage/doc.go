// Package storage provides the durable key/value layer used by the core.
//
// The contract is deliberately narrow: whole-value get/set/delete per key.
// Callers replace entire records on every write; there are no partial
// updates, so a lost write race leaves the last writer's self-consistent
// snapshot in place.
//
// Keys in use:
//   - "timer/session": the single active focus-timer session
//   - "tasks":         the task collection
package storage
