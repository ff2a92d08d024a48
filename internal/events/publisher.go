// Package events defines the small JSON envelope the admin WebSocket
// layer broadcasts to connected dashboard clients. Dissemination across
// the node fleet itself runs over internal/bus; this package only wraps
// locally-observed state for a single process's UI fan-out.
package events

import (
	"encoding/json"
	"time"
)

// EventType names the kind of state change an Event carries.
type EventType string

const (
	EventTaskPending EventType = "task.pending"
	EventTaskRunning EventType = "task.running"
	EventTaskStopped EventType = "task.stopped"
	EventTaskPruned  EventType = "task.pruned"

	EventNodeJoined    EventType = "node.joined"
	EventNodeWithdrawn EventType = "node.withdrawn"
)

// Event is a single broadcastable state change.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event stamped with the current time.
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event to JSON.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// TaskEventTypeForStatus maps a task.Status string to the EventType the
// WebSocket hub should broadcast for it.
func TaskEventTypeForStatus(status string) EventType {
	switch status {
	case "pending":
		return EventTaskPending
	case "running":
		return EventTaskRunning
	case "stopped":
		return EventTaskStopped
	case "pruned":
		return EventTaskPruned
	default:
		return EventType("task." + status)
	}
}

// TaskEventData creates event data for a task status change.
func TaskEventData(taskID, status string) map[string]interface{} {
	return map[string]interface{}{
		"task_id": taskID,
		"status":  status,
	}
}

// NodeEventData creates event data for a node join/withdraw.
func NodeEventData(ident, pool string) map[string]interface{} {
	return map[string]interface{}{
		"ident": ident,
		"pool":  pool,
	}
}
