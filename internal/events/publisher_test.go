package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_Constants(t *testing.T) {
	assert.Equal(t, EventType("task.pending"), EventTaskPending)
	assert.Equal(t, EventType("task.running"), EventTaskRunning)
	assert.Equal(t, EventType("task.stopped"), EventTaskStopped)
	assert.Equal(t, EventType("task.pruned"), EventTaskPruned)
	assert.Equal(t, EventType("node.joined"), EventNodeJoined)
	assert.Equal(t, EventType("node.withdrawn"), EventNodeWithdrawn)
}

func TestNewEvent(t *testing.T) {
	data := TaskEventData("task-123", "running")

	event := NewEvent(EventTaskRunning, data)

	assert.Equal(t, EventTaskRunning, event.Type)
	assert.Equal(t, data, event.Data)
	assert.False(t, event.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestEvent_ToJSON(t *testing.T) {
	event := &Event{
		Type:      EventTaskStopped,
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Data:      TaskEventData("task-456", "stopped"),
	}

	data, err := event.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "task.stopped", parsed["type"])
	assert.NotEmpty(t, parsed["timestamp"])
	assert.NotNil(t, parsed["data"])
}

func TestFromJSON(t *testing.T) {
	jsonData := `{
		"type": "task.stopped",
		"timestamp": "2024-01-15T10:30:00Z",
		"data": {"task_id": "task-789", "status": "stopped"}
	}`

	event, err := FromJSON([]byte(jsonData))
	require.NoError(t, err)

	assert.Equal(t, EventTaskStopped, event.Type)
	assert.Equal(t, "task-789", event.Data["task_id"])
	assert.Equal(t, "stopped", event.Data["status"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("invalid json"))
	assert.Error(t, err)
}

func TestEvent_RoundTrip(t *testing.T) {
	original := NewEvent(EventNodeJoined, NodeEventData("tasknode-abc", "default"))

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Data["ident"], restored.Data["ident"])
	assert.Equal(t, original.Data["pool"], restored.Data["pool"])
}

func TestTaskEventTypeForStatus(t *testing.T) {
	assert.Equal(t, EventTaskPending, TaskEventTypeForStatus("pending"))
	assert.Equal(t, EventTaskRunning, TaskEventTypeForStatus("running"))
	assert.Equal(t, EventTaskStopped, TaskEventTypeForStatus("stopped"))
	assert.Equal(t, EventTaskPruned, TaskEventTypeForStatus("pruned"))
	assert.Equal(t, EventType("task.unknown"), TaskEventTypeForStatus("unknown"))
}

func TestTaskEventData(t *testing.T) {
	data := TaskEventData("task-123", "running")
	assert.Equal(t, "task-123", data["task_id"])
	assert.Equal(t, "running", data["status"])
}

func TestNodeEventData(t *testing.T) {
	data := NodeEventData("tasknode-xyz", "gpu-pool")
	assert.Equal(t, "tasknode-xyz", data["ident"])
	assert.Equal(t, "gpu-pool", data["pool"])
}
