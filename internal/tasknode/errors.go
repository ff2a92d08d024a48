package tasknode

import "errors"

// Error taxonomy, kinds not type names: each sentinel is wrapped with
// fmt.Errorf("...: %w", ...) by call sites that need to attach detail.
var (
	// ErrInvalidArgument: meta is not a mapping, a callable name cannot be
	// derived, or an unknown result_transport was configured.
	ErrInvalidArgument = errors.New("tasknode: invalid argument")

	// ErrUnknownTask: no node in the fleet could describe task_id within
	// query_wait.
	ErrUnknownTask = errors.New("tasknode: unknown task")

	// ErrTaskRaised: the child reported a raise payload; the error text
	// carries the child's traceback.
	ErrTaskRaised = errors.New("tasknode: task raised")

	// ErrBusTransient: a transport failure inside the bus. Background
	// threads catch, log, and continue; this sentinel exists for call
	// sites that need to distinguish it from a hard failure.
	ErrBusTransient = errors.New("tasknode: bus transient error")

	// ErrElectionTimeout: no candidate replied within start_max_wait.
	ErrElectionTimeout = errors.New("tasknode: election timeout")

	// ErrNoResult is the "no-result" sentinel returned by GetTaskResult
	// when the stored result is absent or malformed.
	ErrNoResult = errors.New("tasknode: no result")
)
