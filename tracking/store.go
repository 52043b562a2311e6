package tracking

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const numShards = 16

// DefaultRetention is how long terminal tasks stay queryable before eviction.
const DefaultRetention = 30 * time.Minute

// Update describes the outcome of recording a result against a task.
type Update struct {
	// Task is a snapshot of the record after the update.
	Task *Task
	// Merged is false when the result was dropped, either because the task
	// was already terminal or because the participant was not expected.
	Merged bool
	// Transitioned is true when this update moved the task into a terminal
	// state. At most one recorded result per task ever sets it.
	Transitioned bool
}

// Observer is called synchronously after every status change, with a
// snapshot of the task. It must not call back into the store.
type Observer func(*Task)

// Store is a sharded in-memory task registry. All methods are safe for
// concurrent use; snapshots returned to callers never alias internal state.
type Store struct {
	shards    [numShards]shard
	retention time.Duration
	observer  Observer
}

type shard struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewStore creates a store that retains terminal tasks for retention before
// SweepExpired evicts them. A non-positive retention uses DefaultRetention.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Store{retention: retention}
	for i := range s.shards {
		s.shards[i].tasks = make(map[string]*Task)
	}
	return s
}

// SetObserver installs the status-change observer. Call before the store is
// shared across goroutines.
func (s *Store) SetObserver(obs Observer) {
	s.observer = obs
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.shards[h.Sum32()%numShards]
}

// Create registers a new task in pending state. The expected participant
// set is copied and sorted; an empty set is rejected because such a task
// could never complete.
func (s *Store) Create(id, filename string, expected []string, deadline time.Time) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty task id", ErrCorruption)
	}
	if len(expected) == 0 {
		return nil, fmt.Errorf("%w: task %s has no expected participants", ErrCorruption, id)
	}

	exp := append([]string(nil), expected...)
	sort.Strings(exp)

	task := &Task{
		ID:        id,
		Filename:  filename,
		Status:    StatusPending,
		Expected:  exp,
		Pending:   append([]string(nil), exp...),
		Results:   make(map[string]Result),
		CreatedAt: time.Now().UTC(),
		Deadline:  deadline,
	}

	sh := s.shardFor(id)
	sh.mu.Lock()
	if _, exists := sh.tasks[id]; exists {
		sh.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	sh.tasks[id] = task
	snap := task.snapshot()
	sh.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// Get returns a snapshot of the task, or ErrUnknownTask.
func (s *Store) Get(id string) (*Task, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	task, ok := sh.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return task.snapshot(), nil
}

// Record merges a participant result into the task. Redelivered duplicates
// and results from unexpected participants are reported via Update.Merged
// rather than an error; results arriving after the task went terminal are
// likewise dropped. The completion transition fires exactly once.
func (s *Store) Record(id string, res Result) (Update, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()

	task, ok := sh.tasks[id]
	if !ok {
		sh.mu.Unlock()
		return Update{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	if task.Status.Terminal() {
		up := Update{Task: task.snapshot()}
		sh.mu.Unlock()
		return up, nil
	}

	if !contains(task.Expected, res.Participant) {
		up := Update{Task: task.snapshot()}
		sh.mu.Unlock()
		return up, nil
	}

	if _, dup := task.Results[res.Participant]; dup {
		// At-least-once redelivery, first write wins.
		up := Update{Task: task.snapshot()}
		sh.mu.Unlock()
		return up, nil
	}

	task.Results[res.Participant] = res
	task.Pending = remove(task.Pending, res.Participant)

	up := Update{Merged: true}
	if len(task.Pending) == 0 {
		task.Status = StatusCompleted
		task.DoneAt = time.Now().UTC()
		up.Transitioned = true
	} else {
		task.Status = StatusPartial
	}
	up.Task = task.snapshot()
	sh.mu.Unlock()

	s.notify(up.Task)
	return up, nil
}

// Fail moves a non-terminal task straight to failed, recording the reason
// as a synthetic result entry under the empty participant name.
func (s *Store) Fail(id, reason string) (*Task, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()

	task, ok := sh.tasks[id]
	if !ok {
		sh.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if task.Status.Terminal() {
		snap := task.snapshot()
		sh.mu.Unlock()
		return snap, nil
	}

	task.Status = StatusFailed
	task.DoneAt = time.Now().UTC()
	if reason != "" {
		task.Results[""] = Result{Error: reason, Timestamp: task.DoneAt}
	}
	snap := task.snapshot()
	sh.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// SweepExpired times out every non-terminal task whose deadline is at or
// before now and returns their snapshots. It also evicts terminal tasks
// whose retention window has elapsed.
func (s *Store) SweepExpired(now time.Time) []*Task {
	var expired []*Task

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, task := range sh.tasks {
			if task.Status.Terminal() {
				if !task.DoneAt.IsZero() && now.Sub(task.DoneAt) > s.retention {
					delete(sh.tasks, id)
				}
				continue
			}
			if !task.Deadline.IsZero() && !now.Before(task.Deadline) {
				task.Status = StatusTimedOut
				task.DoneAt = now.UTC()
				expired = append(expired, task.snapshot())
			}
		}
		sh.mu.Unlock()
	}

	for _, snap := range expired {
		s.notify(snap)
	}
	return expired
}

// Len returns the number of tracked tasks across all shards.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.tasks)
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) notify(snap *Task) {
	if s.observer != nil {
		s.observer(snap)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
