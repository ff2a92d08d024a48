package task

import "github.com/google/uuid"

// GenerateTaskID produces a fleet-wide-unique task identifier. Callers
// that maintain a known_task_ids set must treat collision as
// astronomically unlikely rather than check-and-retry, per the
// uniqueness invariant.
func GenerateTaskID() string {
	return uuid.New().String()
}

// GenerateIdent produces a node identity by prepending prefix to a fresh
// UUID, matching the ident_prefix configuration option.
func GenerateIdent(prefix string) string {
	return prefix + uuid.New().String()
}
