package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"focusd/internal/storage"
	logx "focusd/pkg/logx"
)

// CollectionKey is the single KV key holding the whole task collection.
const CollectionKey = "tasks"

var ErrNotFound = errors.New("task not found")

// Store keeps the task collection as one JSON value under one KV key.
// Every write replaces the whole collection, so a multi-step mutation
// (archive + insert) is one durable operation from the caller's view.
type Store struct {
	kv  storage.Store
	log logx.Logger

	// Serializes read-modify-write cycles against the single key.
	mu sync.Mutex
}

func NewStore(kv storage.Store, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{kv: kv, log: log}
}

func (s *Store) load(ctx context.Context) ([]Task, error) {
	if s.kv == nil {
		return nil, storage.ErrDisabled
	}
	b, ok, err := s.kv.Get(ctx, CollectionKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var tasks []Task
	if err := json.Unmarshal(b, &tasks); err != nil {
		// Malformed collection reads as empty, never as a crash.
		s.log.Warn("task collection malformed; treating as empty", logx.Err(err))
		return nil, nil
	}
	return tasks, nil
}

func (s *Store) save(ctx context.Context, tasks []Task) error {
	if s.kv == nil {
		return storage.ErrDisabled
	}
	b, err := json.Marshal(tasks)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, CollectionKey, b)
}

func (s *Store) List(ctx context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) Get(ctx context.Context, id string) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load(ctx)
	if err != nil {
		return Task{}, false, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, true, nil
		}
	}
	return Task{}, false, nil
}

// Put upserts a task, appending new records at the end.
func (s *Store) Put(ctx context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID == t.ID {
			tasks[i] = t
			return s.save(ctx, tasks)
		}
	}
	tasks = append(tasks, t)
	return s.save(ctx, tasks)
}

// CompleteSwap archives the task and, when replacement is non-nil, inserts it
// directly ahead of the archived record. Both land in a single collection
// write, so the caller can never observe "archived but no replacement".
func (s *Store) CompleteSwap(ctx context.Context, id string, at time.Time, replacement *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		tasks[i].ArchivedAt = &at
		if replacement == nil {
			return s.save(ctx, tasks)
		}
		out := make([]Task, 0, len(tasks)+1)
		out = append(out, tasks[:i]...)
		out = append(out, *replacement)
		out = append(out, tasks[i:]...)
		return s.save(ctx, out)
	}
	return ErrNotFound
}

// Remove deletes a task outright.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load(ctx)
	if err != nil {
		return err
	}
	n := 0
	for _, t := range tasks {
		if t.ID == id {
			continue
		}
		tasks[n] = t
		n++
	}
	if n == len(tasks) {
		return ErrNotFound
	}
	return s.save(ctx, tasks[:n])
}

// Active returns unarchived tasks.
func (s *Store) Active(ctx context.Context) ([]Task, error) {
	tasks, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := tasks[:0:0]
	for _, t := range tasks {
		if !t.Archived() {
			out = append(out, t)
		}
	}
	return out, nil
}

// OverdueAt returns active tasks whose due date is strictly before now.
func (s *Store) OverdueAt(ctx context.Context, now time.Time) ([]Task, error) {
	tasks, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	out := tasks[:0:0]
	for _, t := range tasks {
		if t.DueDate != nil && t.DueDate.Before(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

// DueOn returns active tasks due on the given calendar day (due dates are
// end-of-day normalized, so this is a whole-day match).
func (s *Store) DueOn(ctx context.Context, day time.Time) ([]Task, error) {
	tasks, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	y, m, d := day.Date()
	out := tasks[:0:0]
	for _, t := range tasks {
		if t.DueDate == nil {
			continue
		}
		dy, dm, dd := t.DueDate.In(day.Location()).Date()
		if dy == y && dm == m && dd == d {
			out = append(out, t)
		}
	}
	return out, nil
}
