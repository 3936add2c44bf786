package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rubinsync/celestorm/encoding"
	"github.com/rubinsync/celestorm/storage"
	"github.com/rubinsync/celestorm/transport"
)

// Layer is the execution layer for state-changing instructions in a
// distributed system: it binds a Transport to TransactedStorage and drives
// the receive/validate/finalize/commit loop.
type Layer[U encoding.OID] struct {
	transport  *transport.Transport[U]
	storage    storage.TransactedStorage[U]
	registry   *encoding.Registry[U]
	verifyOpts []encoding.VerifyOption
	logger     *slog.Logger
}

// New builds a Layer over tp/st, deserializing packages against reg with
// the given verification options (e.g. encoding.WithVerifier).
func New[U encoding.OID](tp *transport.Transport[U], st storage.TransactedStorage[U],
	reg *encoding.Registry[U], logger *slog.Logger, verifyOpts ...encoding.VerifyOption) *Layer[U] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer[U]{transport: tp, storage: st, registry: reg, verifyOpts: verifyOpts, logger: logger}
}

// Start runs the receive/execute loop until ctx is canceled or a critical
// error occurs. Cancellation is a clean shutdown: any transaction left open
// by the cancellation is rolled back, and Start returns nil.
func (l *Layer[U]) Start(ctx context.Context) error {
	lastRound, err := l.storage.GetLastRound(ctx)
	if err != nil {
		return fmt.Errorf("execution: get last round: %w", err)
	}
	fromRound := lastRound + 1

	err = l.transport.WithReceiver(ctx, fromRound, func(recv transport.Receiver[U]) error {
		for {
			syncRound, pkg, ok, err := recv.Next(ctx)
			if err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					return nil
				}
				return err
			}
			if !ok {
				return nil
			}
			if err := l.runSyncRound(ctx, syncRound, pkg); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	})
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

// runSyncRound opens a transaction for syncRound, applies every instruction
// in pkg, and commits. An ExecutionError rolls back, logs a warning, and is
// swallowed (the round is simply dropped); any other error rolls back and
// propagates, terminating the loop.
func (l *Layer[U]) runSyncRound(ctx context.Context, syncRound int64, pkg encoding.Package[U]) error {
	if err := l.storage.BeginTransaction(ctx, syncRound); err != nil {
		return fmt.Errorf("execution: begin transaction: %w", err)
	}

	it, err := pkg.Deserialize(l.registry, l.verifyOpts...)
	if err != nil {
		return l.finishRound(ctx, syncRound, err)
	}

	for {
		instr, ok, err := it.Next()
		if err != nil {
			return l.finishRound(ctx, syncRound, err)
		}
		if !ok {
			break
		}
		if err := l.execute(ctx, syncRound, instr); err != nil {
			return l.finishRound(ctx, syncRound, err)
		}
	}

	if err := l.storage.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("execution: commit transaction: %w", err)
	}
	return nil
}

// finishRound rolls back the open transaction and decides whether cause is
// recoverable (ExecutionError: log and drop the round) or must propagate.
func (l *Layer[U]) finishRound(ctx context.Context, syncRound int64, cause error) error {
	_ = l.storage.RollbackTransaction(ctx, cause)

	var execErr *ExecutionError
	if errors.As(cause, &execErr) {
		l.logger.Warn(fmt.Sprintf("Sync round# %d; dropped by error: %v", syncRound, cause),
			slog.Int64("sync_round", syncRound), slog.String("reason", cause.Error()))
		return nil
	}
	return cause
}

func (l *Layer[U]) execute(ctx context.Context, syncRound int64, instr *encoding.Instruction[U]) error {
	if err := l.checkInstruction(ctx, syncRound, instr); err != nil {
		return err
	}
	if err := l.storage.FinalizeInstruction(ctx, instr); err != nil {
		return &FinalizationError{Msg: "finalization error", Cause: err}
	}
	return nil
}

// checkInstruction validates instr.Revision against the storage's current
// view of its object before applying it:
//   - 0 < syncRound <= instr.Revision means this instruction expects a
//     revision from the future: synchronization has been lost.
//   - the stored revision below instr.Revision also means synchronization
//     has been lost: the instruction was built against state we never saw.
//   - the stored revision above instr.Revision means the instruction is
//     late and its effect has already been superseded; drop it.
func (l *Layer[U]) checkInstruction(ctx context.Context, syncRound int64, instr *encoding.Instruction[U]) error {
	if syncRound > 0 && encoding.Revision(syncRound) <= instr.Revision() {
		return &SynchronizationError{Msg: "synchronization lost"}
	}
	revision, err := l.storage.GetRevisionFor(ctx, instr.OID())
	if err != nil {
		return fmt.Errorf("execution: get revision: %w", err)
	}
	switch {
	case revision < instr.Revision():
		return &SynchronizationError{Msg: "synchronization lost"}
	case revision > instr.Revision():
		return &ExecutionError{Msg: "instruction was late"}
	default:
		return nil
	}
}
