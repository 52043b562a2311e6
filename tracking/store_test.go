package tracking

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(t *testing.T, s *Store, expected ...string) *Task {
	t.Helper()
	task, err := s.Create(uuid.NewString(), "contract.md", expected, time.Now().Add(time.Minute))
	require.NoError(t, err)
	return task
}

func TestStore_CreateAndGet(t *testing.T) {
	s := NewStore(0)
	task := newTask(t, s, "legal", "econom")

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, []string{"econom", "legal"}, got.Expected)
	assert.Equal(t, []string{"econom", "legal"}, got.Pending)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestStore_DuplicateCreate(t *testing.T) {
	s := NewStore(0)
	_, err := s.Create("t1", "a.md", []string{"legal"}, time.Time{})
	require.NoError(t, err)
	_, err = s.Create("t1", "b.md", []string{"legal"}, time.Time{})
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestStore_CreateValidation(t *testing.T) {
	s := NewStore(0)
	_, err := s.Create("", "a.md", []string{"legal"}, time.Time{})
	assert.ErrorIs(t, err, ErrCorruption)
	_, err = s.Create("t1", "a.md", nil, time.Time{})
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestStore_RecordProgression(t *testing.T) {
	s := NewStore(0)
	task := newTask(t, s, "legal", "econom", "security")

	up, err := s.Record(task.ID, Result{Participant: "legal", StatusCode: 200})
	require.NoError(t, err)
	assert.True(t, up.Merged)
	assert.False(t, up.Transitioned)
	assert.Equal(t, StatusPartial, up.Task.Status)
	assert.Equal(t, []string{"econom", "security"}, up.Task.Pending)

	up, err = s.Record(task.ID, Result{Participant: "econom", StatusCode: 200})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, up.Task.Status)

	up, err = s.Record(task.ID, Result{Participant: "security", StatusCode: 200})
	require.NoError(t, err)
	assert.True(t, up.Transitioned)
	assert.Equal(t, StatusCompleted, up.Task.Status)
	assert.Empty(t, up.Task.Pending)
	assert.False(t, up.Task.DoneAt.IsZero())
}

func TestStore_RecordAnyOrderCompletes(t *testing.T) {
	expected := []string{"legal", "econom", "security"}
	orders := [][]string{
		{"legal", "econom", "security"},
		{"legal", "security", "econom"},
		{"econom", "legal", "security"},
		{"econom", "security", "legal"},
		{"security", "legal", "econom"},
		{"security", "econom", "legal"},
	}

	for _, order := range orders {
		s := NewStore(0)
		task := newTask(t, s, expected...)

		var last Update
		for _, p := range order {
			var err error
			last, err = s.Record(task.ID, Result{Participant: p, StatusCode: 200})
			require.NoError(t, err)
		}

		assert.True(t, last.Transitioned, "order %v", order)
		assert.Equal(t, StatusCompleted, last.Task.Status, "order %v", order)
		assert.Empty(t, last.Task.Pending, "order %v", order)
		assert.Len(t, last.Task.Results, 3, "order %v", order)
	}
}

func TestStatus_WireValues(t *testing.T) {
	want := map[Status]string{
		StatusPending:   "pending",
		StatusPartial:   "partial",
		StatusCompleted: "complete",
		StatusTimedOut:  "timed_out",
		StatusFailed:    "failed",
	}
	for status, value := range want {
		data, err := json.Marshal(status)
		require.NoError(t, err)
		assert.Equal(t, `"`+value+`"`, string(data))
	}
}

func TestStore_RecordDuplicateIsIdempotent(t *testing.T) {
	s := NewStore(0)
	task := newTask(t, s, "legal", "econom")

	first := Result{Participant: "legal", StatusCode: 200, ElapsedMS: 10}
	up, err := s.Record(task.ID, first)
	require.NoError(t, err)
	require.True(t, up.Merged)

	redelivered := Result{Participant: "legal", StatusCode: 500, ElapsedMS: 99}
	up, err = s.Record(task.ID, redelivered)
	require.NoError(t, err)
	assert.False(t, up.Merged)
	assert.Equal(t, 200, up.Task.Results["legal"].StatusCode)
}

func TestStore_RecordUnexpectedParticipant(t *testing.T) {
	s := NewStore(0)
	task := newTask(t, s, "legal")

	up, err := s.Record(task.ID, Result{Participant: "intruder", StatusCode: 200})
	require.NoError(t, err)
	assert.False(t, up.Merged)
	assert.Equal(t, StatusPending, up.Task.Status)
	assert.NotContains(t, up.Task.Results, "intruder")
}

func TestStore_RecordAfterTerminalIgnored(t *testing.T) {
	s := NewStore(0)
	task, err := s.Create("t1", "a.md", []string{"legal", "econom"},
		time.Now().Add(-time.Second))
	require.NoError(t, err)

	swept := s.SweepExpired(time.Now())
	require.Len(t, swept, 1)
	assert.Equal(t, StatusTimedOut, swept[0].Status)

	up, err := s.Record(task.ID, Result{Participant: "legal", StatusCode: 200})
	require.NoError(t, err)
	assert.False(t, up.Merged)
	assert.Equal(t, StatusTimedOut, up.Task.Status)
}

func TestStore_CompletionTransitionFiresOnce(t *testing.T) {
	s := NewStore(0)
	task := newTask(t, s, "legal")

	var transitions int
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			up, err := s.Record(task.ID, Result{Participant: "legal", StatusCode: 200})
			if err == nil && up.Transitioned {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, transitions)
}

func TestStore_Fail(t *testing.T) {
	s := NewStore(0)
	task := newTask(t, s, "legal")

	snap, err := s.Fail(task.ID, "no participants matched")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)

	// Failing again is a no-op.
	snap, err = s.Fail(task.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
}

func TestStore_SweepEvictsRetainedTerminals(t *testing.T) {
	s := NewStore(time.Minute)
	task := newTask(t, s, "legal")

	_, err := s.Record(task.ID, Result{Participant: "legal", StatusCode: 200})
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	// Within retention, still queryable.
	s.SweepExpired(time.Now())
	_, err = s.Get(task.ID)
	require.NoError(t, err)

	// After retention, evicted.
	s.SweepExpired(time.Now().Add(2 * time.Minute))
	_, err = s.Get(task.ID)
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Equal(t, 0, s.Len())
}

func TestStore_ObserverSeesTransitions(t *testing.T) {
	s := NewStore(0)

	var statuses []Status
	s.SetObserver(func(task *Task) {
		statuses = append(statuses, task.Status)
	})

	task := newTask(t, s, "legal", "econom")
	_, err := s.Record(task.ID, Result{Participant: "legal", StatusCode: 200})
	require.NoError(t, err)
	_, err = s.Record(task.ID, Result{Participant: "econom", StatusCode: 200})
	require.NoError(t, err)

	assert.Equal(t, []Status{StatusPending, StatusPartial, StatusCompleted}, statuses)
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := NewStore(0)
	task := newTask(t, s, "legal")

	task.Pending[0] = "tampered"
	task.Results["x"] = Result{}

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"legal"}, got.Pending)
	assert.NotContains(t, got.Results, "x")
}
