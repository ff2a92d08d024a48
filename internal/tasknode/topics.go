package tasknode

// Bus topics. Field names on the payloads are part of the wire contract
// and must match byte-for-byte across interoperating implementations.
const (
	topicNodeAnnounce  = "task_node_announce"
	topicNodeWithhold  = "task_node_withhold"
	topicStateAnnounce = "task_state_announce"
	topicStateQuery    = "task_state_query"
	topicStateReply    = "task_state_reply"
	topicPoolQuery     = "task_pool_query"
	topicPoolReply     = "task_pool_reply"
	topicStopRequest   = "task_stop_request"
	topicStatusChange  = "task_status_change"
	topicResultPayload = "task_result_payload"

	topicStartQuery   = "task_start_query"
	topicStartRequest = "task_start_request"
	topicStartAck     = "task_start_ack"
)

// syncQueryTopic and syncAckTopic derive the two per-election synthetic
// sync-inbox topic names from a task_id.
func syncQueryTopic(taskID string) string { return topicStartQuery + "_" + taskID }
func syncAckTopic(taskID string) string   { return topicStartAck + "_" + taskID }
