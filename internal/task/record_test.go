package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCloneIsIndependent(t *testing.T) {
	limit := 2
	original := &Record{
		TaskID:    "t1",
		Requestor: "node-a",
		Status:    StatusRunning,
		Meta:      map[string]any{"k": "v"},
		Result:    &Result{Return: []byte(`5`)},
	}
	_ = limit

	clone := original.Clone()
	require.NotNil(t, clone)
	clone.Meta["k"] = "changed"
	clone.Result.Return = []byte(`99`)

	assert.Equal(t, "v", original.Meta["k"])
	assert.Equal(t, `5`, string(original.Result.Return))
	assert.Equal(t, "changed", clone.Meta["k"])
}

func TestRecordCloneNil(t *testing.T) {
	var r *Record
	assert.Nil(t, r.Clone())
}

func TestRecordJSONRoundTrip(t *testing.T) {
	r := &Record{
		TaskID:    "t2",
		Requestor: "node-a",
		Runner:    "node-b",
		Status:    StatusStopped,
		Result:    NewRaise("boom"),
		Meta:      map[string]any{"x": float64(1)},
	}
	data, err := r.ToJSON()
	require.NoError(t, err)

	got, err := RecordFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, r.TaskID, got.TaskID)
	assert.Equal(t, r.Runner, got.Runner)
	assert.Equal(t, r.Status, got.Status)
	assert.Equal(t, r.Result.Raise, got.Result.Raise)
	assert.Equal(t, r.Meta["x"], got.Meta["x"])
}

func TestPoolInfoFreeCapacity(t *testing.T) {
	limit := 3
	bounded := &PoolInfo{TaskLimit: &limit, RunningTasks: 1}
	free, ok := bounded.FreeCapacity()
	assert.True(t, ok)
	assert.Equal(t, 2, free)

	overCommitted := &PoolInfo{TaskLimit: &limit, RunningTasks: 5}
	free, ok = overCommitted.FreeCapacity()
	assert.True(t, ok)
	assert.Equal(t, 0, free)

	unlimited := &PoolInfo{TaskLimit: nil, RunningTasks: 10}
	_, ok = unlimited.FreeCapacity()
	assert.False(t, ok)
}
