// Package storage defines the transactional object-storage contract the
// execution layer synchronizes against, along with an in-memory reference
// implementation and a durable implementation backed by bbolt.
package storage

import (
	"context"

	"github.com/rubinsync/celestorm/encoding"
)

// Storage is the read-only surface the execution layer consults before and
// between sync rounds.
type Storage[U encoding.OID] interface {
	// GetLastRound returns the last completed sync round, or 0 if storage
	// has never been synchronized.
	GetLastRound(ctx context.Context) (int64, error)

	// GetRevisionFor returns the revision number of the object identified
	// by oid, or 0 if it does not exist.
	GetRevisionFor(ctx context.Context, oid U) (encoding.Revision, error)

	// RoundAccepted reports whether round has been accepted: whether any
	// stored object carries that round as its revision.
	RoundAccepted(ctx context.Context, round int64) (bool, error)
}

// TransactedStorage extends Storage with the transaction lifecycle the
// execution layer drives once per sync round.
type TransactedStorage[U encoding.OID] interface {
	Storage[U]

	// BeginTransaction opens a transaction scoped to round. Only one
	// transaction may be open at a time.
	BeginTransaction(ctx context.Context, round int64) error

	// FinalizeInstruction applies instr's state change within the open
	// transaction.
	FinalizeInstruction(ctx context.Context, instr *encoding.Instruction[U]) error

	// CommitTransaction durably applies every finalized instruction and
	// records round as the last completed sync round.
	CommitTransaction(ctx context.Context) error

	// RollbackTransaction discards every change made since BeginTransaction.
	// cause is recorded for diagnostics; it never affects rollback behavior.
	RollbackTransaction(ctx context.Context, cause error) error
}
