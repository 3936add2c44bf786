package transport

import (
	"context"
	"fmt"

	"github.com/rubinsync/celestorm/encoding"
)

// PackageBuilder assembles a Package from the instructions a Transmitter
// collected. Typically encoding.Build bound to a concrete OID type and a
// chosen Hasher/Signer.
type PackageBuilder[U encoding.OID] func(instructions []*encoding.Instruction[U]) (encoding.Package[U], error)

// Transmitter collects instructions into a package and submits it to a
// Connection on exit. The zero value is not usable; obtain one through
// Transport.WithTransmitter.
type Transmitter[U encoding.OID] struct {
	conn         Connection[U]
	build        PackageBuilder[U]
	instructions []*encoding.Instruction[U]
	syncRound    *int64
}

// Add appends instr to the package this Transmitter will submit.
func (t *Transmitter[U]) Add(instr *encoding.Instruction[U]) {
	t.instructions = append(t.instructions, instr)
}

// SyncRound reports the sync round the submitted package was accepted in.
// ok is false until submission has completed successfully.
func (t *Transmitter[U]) SyncRound() (round int64, ok bool) {
	if t.syncRound == nil {
		return 0, false
	}
	return *t.syncRound, true
}

// SentCount reports how many instructions were sent, 0 until submission
// has completed successfully.
func (t *Transmitter[U]) SentCount() int {
	if t.syncRound == nil {
		return 0
	}
	return len(t.instructions)
}

func (t *Transmitter[U]) send(ctx context.Context) error {
	pkg, err := t.build(t.instructions)
	if err != nil {
		return fmt.Errorf("transport: build package: %w", err)
	}
	round, err := t.conn.SendPackage(ctx, pkg)
	if err != nil {
		return err
	}
	t.syncRound = &round
	return nil
}
