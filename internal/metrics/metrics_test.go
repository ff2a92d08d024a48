package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	// promauto already registers these at package init; just verify
	// every exported metric exists.
	assert.NotNil(t, ElectionsStarted)
	assert.NotNil(t, ElectionsWon)
	assert.NotNil(t, ElectionTimeouts)
	assert.NotNil(t, ElectionDuration)

	assert.NotNil(t, TasksRunning)
	assert.NotNil(t, TasksStopped)
	assert.NotNil(t, TasksPruned)

	assert.NotNil(t, WatcherLoopDuration)
	assert.NotNil(t, HousekeeperPruneBatch)

	assert.NotNil(t, BusEmitErrors)

	assert.NotNil(t, HTTPRequestDuration)
	assert.NotNil(t, HTTPRequestsTotal)
	assert.NotNil(t, WebSocketConnections)
	assert.NotNil(t, WebSocketMessages)
}

func TestRecordElectionMetrics(t *testing.T) {
	ElectionsStarted.Reset()
	ElectionsWon.Reset()
	ElectionTimeouts.Reset()
	ElectionDuration.Reset()

	RecordElectionStarted("add", "p")
	RecordElectionWon("add", "p")
	RecordElectionTimeout("slow", "p")
	RecordElectionDuration("add", 0.01)
}

func TestTaskLifecycleMetrics(t *testing.T) {
	TasksRunning.Reset()
	TasksStopped.Reset()
	TasksPruned.Reset()

	SetTasksRunning("p", 3)
	RecordTaskStopped("add", "return")
	RecordTaskStopped("boom", "raise")
	RecordTasksPruned("p", 2)
}

func TestWatcherHousekeeperMetrics(t *testing.T) {
	RecordWatcherLoop(0.002)
	RecordHousekeeperBatch(4)
}

func TestBusEmitErrorMetric(t *testing.T) {
	BusEmitErrors.Reset()
	RecordBusEmitError("task_start_query")
}

func TestHTTPAndWebSocketMetrics(t *testing.T) {
	HTTPRequestDuration.Reset()
	HTTPRequestsTotal.Reset()
	WebSocketMessages.Reset()

	RecordHTTPRequest("GET", "/admin/tasks/123", "200", 0.01)
	SetWebSocketConnections(2)
	RecordWebSocketMessage("task_status_change")
}
