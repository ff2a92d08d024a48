package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carrier-io/tasknode/internal/logger"
	"github.com/carrier-io/tasknode/internal/task"
	"github.com/carrier-io/tasknode/internal/tasknode"
)

// AdminHandler serves the read-only admin/observability surface: a
// view onto the replicated pool and task state this node has observed,
// never a way to mutate it. Task lifecycle is driven exclusively
// through tasknode.Node's own API (StartTask, StopTask, ...).
type AdminHandler struct {
	node *tasknode.Node
}

// NewAdminHandler creates a new admin handler backed by node.
func NewAdminHandler(node *tasknode.Node) *AdminHandler {
	return &AdminHandler{node: node}
}

// ListPools handles GET /admin/pools
func (h *AdminHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools := h.node.Pools()

	out := make(map[string]interface{}, len(pools))
	var totalNodes int
	for pool, bucket := range pools {
		nodes := make([]map[string]interface{}, 0, len(bucket))
		for _, info := range bucket {
			nodes = append(nodes, poolInfoJSON(info))
		}
		out[pool] = nodes
		totalNodes += len(bucket)
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pools":       out,
		"pool_count":  len(pools),
		"total_nodes": totalNodes,
	})
}

// GetPool handles GET /admin/pools/{pool}
func (h *AdminHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	if pool == "" {
		h.respondError(w, http.StatusBadRequest, "pool is required")
		return
	}

	bucket, ok := h.node.PoolState(pool)
	if !ok {
		h.respondError(w, http.StatusNotFound, "pool not found")
		return
	}

	nodes := make([]map[string]interface{}, 0, len(bucket))
	for _, info := range bucket {
		nodes = append(nodes, poolInfoJSON(info))
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pool":  pool,
		"nodes": nodes,
	})
}

// GetTask handles GET /admin/tasks/{taskID}
func (h *AdminHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	rec, ok := h.node.TaskSnapshot(taskID)
	if !ok {
		h.respondError(w, http.StatusNotFound, "task not known to this node")
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

// HealthCheck handles GET /admin/health
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if !h.node.Healthy() {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"bus":    "disconnected",
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"bus":    "connected",
		"ident":  h.node.Ident(),
		"pool":   h.node.Pool(),
	})
}

func poolInfoJSON(info *task.PoolInfo) map[string]interface{} {
	free, bounded := info.FreeCapacity()
	return map[string]interface{}{
		"ident":         info.Ident,
		"pool":          info.Pool,
		"task_limit":    info.TaskLimit,
		"running_tasks": info.RunningTasks,
		"free_capacity": free,
		"bounded":       bounded,
	}
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
