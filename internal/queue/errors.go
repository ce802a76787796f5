package queue

import "errors"

var (
	// ErrIndexOutOfBounds is returned when a requested checkpoint index has
	// been pruned from the queue or has not been created yet.
	ErrIndexOutOfBounds = errors.New("checkpoint index out of bounds")
	// ErrNoCompletedCheckpoints is returned when querying the last completed
	// checkpoint before any checkpoint has reached Complete.
	ErrNoCompletedCheckpoints = errors.New("no completed checkpoints yet")
	// ErrNoBuildingCheckpoint is returned when Building is called before the
	// network's first checkpoint has been pushed.
	ErrNoBuildingCheckpoint = errors.New("no building checkpoint yet")
)
