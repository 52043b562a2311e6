package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contrail-ai/contrail/document"
	"github.com/contrail-ai/contrail/progress"
	"github.com/contrail-ai/contrail/tracking"
)

const scenarioContract = `Supply agreement between the parties.

1. Subject of the Contract
The Seller delivers industrial pumps to the Buyer.

2. Specification
TABLE: Pump P-100 | 2 | pcs | 1500.00 | 3000.00 | DE
TABLE: Valve V-20 | 10 | pcs | 45.50 | 455.00 | IT

3. Payment Terms
Payment within 30 days of delivery.
`

// TestScenario_AllParticipantsReport drives a whole task lifecycle through
// the registry and notifier without a broker: split, fan-out target
// selection, one result per participant, and the aggregated outcome.
func TestScenario_AllParticipantsReport(t *testing.T) {
	bag, err := document.Split(scenarioContract)
	require.NoError(t, err)

	table, err := NewTable([]Participant{
		{Name: "legal", Endpoint: "http://legal", Sections: []string{"part_*"}},
		{Name: "econom", Endpoint: "http://econom", Sections: []string{"part_2", "part_16"}},
	})
	require.NoError(t, err)

	targets := table.Targets(bag)
	require.Len(t, targets, 2)

	store := tracking.NewStore(time.Minute)
	notifier := progress.NewNotifier(8, time.Minute)
	store.SetObserver(func(task *tracking.Task) {
		notifier.Publish(progress.FromTask(task))
	})

	expected := make([]string, len(targets))
	for i, p := range targets {
		expected[i] = p.Name
	}
	deadline := time.Now().Add(time.Minute)
	_, err = store.Create("task-1", "contract.md", expected, deadline)
	require.NoError(t, err)

	sub := notifier.Subscribe("task-1")
	defer sub.Cancel()

	// Every participant sees only its declared sections.
	econom := bag.Subset([]string{"part_2", "part_16"})
	assert.Empty(t, econom.Part(3))
	assert.NotEmpty(t, econom.Part(2))

	for _, p := range targets {
		env := &ResultEnvelope{
			TaskID:      "task-1",
			Participant: p.Name,
			StatusCode:  200,
			Payload:     json.RawMessage(`{"risk":"low"}`),
			Timestamp:   time.Now().UTC(),
		}
		update, err := store.Record("task-1", env.ToResult())
		require.NoError(t, err)
		assert.True(t, update.Merged)
	}

	task, err := store.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, tracking.StatusCompleted, task.Status)

	final := FinalFromTask(task)
	require.NoError(t, final.Validate())
	assert.Empty(t, final.Missing)
	assert.Len(t, final.Results, 2)
	for _, name := range expected {
		assert.JSONEq(t, `{"risk":"low"}`, string(final.Results[name]))
	}

	// The notifier saw the terminal transition.
	var terminal bool
	for ev := range sub.C {
		if ev.Terminal() {
			terminal = true
		}
	}
	assert.True(t, terminal)
}

// TestScenario_ParticipantTimesOut covers the deadline path: one participant
// reports, the other never does, and the sweep produces a timed-out final
// with a synthetic timeout marker.
func TestScenario_ParticipantTimesOut(t *testing.T) {
	store := tracking.NewStore(time.Minute)
	notifier := progress.NewNotifier(8, time.Minute)
	store.SetObserver(func(task *tracking.Task) {
		notifier.Publish(progress.FromTask(task))
	})

	deadline := time.Now().Add(50 * time.Millisecond)
	_, err := store.Create("task-2", "contract.md", []string{"legal", "econom"}, deadline)
	require.NoError(t, err)

	sub := notifier.Subscribe("task-2")
	defer sub.Cancel()

	env := &ResultEnvelope{
		TaskID:      "task-2",
		Participant: "legal",
		StatusCode:  200,
		Payload:     json.RawMessage(`{"risk":"low"}`),
		Timestamp:   time.Now().UTC(),
	}
	_, err = store.Record("task-2", env.ToResult())
	require.NoError(t, err)

	swept := store.SweepExpired(deadline.Add(time.Second))
	require.Len(t, swept, 1)
	assert.Equal(t, tracking.StatusTimedOut, swept[0].Status)

	final := FinalFromTask(swept[0])
	require.NoError(t, final.Validate())
	assert.Equal(t, []string{"econom"}, final.Missing)
	assert.JSONEq(t, `{"risk":"low"}`, string(final.Results["legal"]))
	assert.Equal(t, `"timeout"`, string(final.Results["econom"]))

	var terminal bool
	for ev := range sub.C {
		if ev.Terminal() {
			terminal = true
		}
	}
	assert.True(t, terminal)
}
