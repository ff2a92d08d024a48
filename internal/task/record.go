package task

import "encoding/json"

// Record is the replicated task-state record held by every node: the
// task's requestor, its runner (once elected), its lifecycle status, its
// result once produced, and caller-supplied metadata.
type Record struct {
	TaskID    string         `json:"task_id"`
	Requestor string         `json:"requestor"`
	Runner    string         `json:"runner,omitempty"`
	Status    Status         `json:"status"`
	Result    *Result        `json:"result,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Clone returns a deep-enough copy for safe cross-goroutine handoff; bus
// handlers apply copies of the event payload, never the sender's original.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Meta != nil {
		clone.Meta = make(map[string]any, len(r.Meta))
		for k, v := range r.Meta {
			clone.Meta[k] = v
		}
	}
	if r.Result != nil {
		res := *r.Result
		clone.Result = &res
	}
	return &clone
}

// ToJSON/FromJSON mirror the teacher's task.Task wire helpers.
func (r *Record) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

func RecordFromJSON(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PoolInfo is the per-node capability snapshot replicated in pool_state.
type PoolInfo struct {
	Ident        string `json:"ident"`
	Pool         string `json:"pool"`
	TaskLimit    *int   `json:"task_limit"` // nil means unlimited
	RunningTasks int    `json:"running_tasks"`
}

// FreeCapacity returns the node's remaining task slots and whether that
// value is meaningful (false when the node declares unlimited capacity).
func (p *PoolInfo) FreeCapacity() (capacity int, bounded bool) {
	if p.TaskLimit == nil {
		return 0, false
	}
	free := *p.TaskLimit - p.RunningTasks
	if free < 0 {
		free = 0
	}
	return free, true
}
