package ha

import "errors"

// Failure kinds surfaced by collaborators. The state machine dispatches on
// these with errors.Is; wrap them with fmt.Errorf("...: %w", ...) so the
// original context survives.
var (
	// ErrResourceUnavailable means an agent or resource the operation
	// needs cannot be reached right now.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrOperationTimedOut means a collaborator call exceeded its own
	// deadline.
	ErrOperationTimedOut = errors.New("operation timed out")

	// ErrConcurrentOperation means another operation on the same VM is in
	// flight.
	ErrConcurrentOperation = errors.New("concurrent operation in progress")

	// ErrInsufficientCapacity means no host had room for the deployment.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrInsufficientServerCapacity is the migration-specific capacity
	// failure; it triggers the resource manager's failure callback.
	ErrInsufficientServerCapacity = errors.New("insufficient server capacity")

	// ErrAgentUnavailable means the hypervisor agent is down.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrUnknownVM is returned by an investigator that does not recognize
	// the VM. The caller moves on to the next investigator.
	ErrUnknownVM = errors.New("unknown vm")
)

// retryable reports whether a stop or destroy failure should be retried on
// the stop interval rather than escalated.
func retryable(err error) bool {
	return errors.Is(err, ErrResourceUnavailable) ||
		errors.Is(err, ErrOperationTimedOut) ||
		errors.Is(err, ErrConcurrentOperation) ||
		errors.Is(err, ErrAgentUnavailable)
}
