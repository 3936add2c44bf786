// Package execution binds a transport to transactional storage and drives
// the sync-round state machine: receive a package, open a transaction,
// validate and finalize each instruction, commit or roll back (spec §4.7).
package execution

import "fmt"

// ExecutionError is a round-local, recoverable failure: the sync round is
// rolled back and dropped, and the layer logs a warning and continues with
// the next round.
type ExecutionError struct {
	Msg   string
	Cause error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// SynchronizationError is critical: the storage's view of object revisions
// disagrees with what the instruction stream implies, meaning this node
// has fallen out of sync with the platform. The layer rolls back and
// propagates the error, tearing down the running loop.
type SynchronizationError struct {
	Msg string
}

func (e *SynchronizationError) Error() string { return e.Msg }

// FinalizationError is critical: storage rejected an instruction it should
// have been able to apply (e.g. a storage-layer invariant violation). The
// layer rolls back and propagates the error.
type FinalizationError struct {
	Msg   string
	Cause error
}

func (e *FinalizationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *FinalizationError) Unwrap() error { return e.Cause }
