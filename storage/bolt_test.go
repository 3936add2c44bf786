package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestBolt(t *testing.T) *BoltStorage[oid] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.bolt")
	s, err := OpenBolt[oid](path)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltCreateThenGet(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	id := oid{class: "Thing", key: "a"}

	if err := s.BeginTransaction(ctx, 1); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := s.FinalizeInstruction(ctx, mustInstr(t, id, 0, map[string]any{"value": "v1"})); err != nil {
		t.Fatalf("FinalizeInstruction: %v", err)
	}
	if err := s.CommitTransaction(ctx); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}

	revision, err := s.GetRevisionFor(ctx, id)
	if err != nil {
		t.Fatalf("GetRevisionFor: %v", err)
	}
	if revision != 1 {
		t.Fatalf("revision = %d, want 1", revision)
	}

	last, err := s.GetLastRound(ctx)
	if err != nil || last != 1 {
		t.Fatalf("GetLastRound() = %d, %v; want 1, nil", last, err)
	}
	accepted, err := s.RoundAccepted(ctx, 1)
	if err != nil || !accepted {
		t.Fatalf("RoundAccepted(1) = %v, %v; want true, nil", accepted, err)
	}
}

func TestBoltUpdateMergesAttributes(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	id := oid{class: "Thing", key: "a"}

	s.BeginTransaction(ctx, 1)
	s.FinalizeInstruction(ctx, mustInstr(t, id, 0, map[string]any{"x": "1", "y": "1"}))
	s.CommitTransaction(ctx)

	s.BeginTransaction(ctx, 2)
	if err := s.FinalizeInstruction(ctx, mustInstr(t, id, 1, map[string]any{"y": "2"})); err != nil {
		t.Fatalf("FinalizeInstruction(update): %v", err)
	}
	s.CommitTransaction(ctx)

	revision, err := s.GetRevisionFor(ctx, id)
	if err != nil {
		t.Fatalf("GetRevisionFor: %v", err)
	}
	if revision != 2 {
		t.Fatalf("revision = %d, want 2", revision)
	}
}

func TestBoltDeleteThenRevisionResetsAndAllowsRecreate(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	id := oid{class: "Thing", key: "a"}

	s.BeginTransaction(ctx, 1)
	s.FinalizeInstruction(ctx, mustInstr(t, id, 0, map[string]any{"x": "1"}))
	s.CommitTransaction(ctx)

	s.BeginTransaction(ctx, 2)
	if err := s.FinalizeInstruction(ctx, mustInstr(t, id, 1, nil)); err != nil {
		t.Fatalf("FinalizeInstruction(delete): %v", err)
	}
	s.CommitTransaction(ctx)

	revision, err := s.GetRevisionFor(ctx, id)
	if err != nil {
		t.Fatalf("GetRevisionFor: %v", err)
	}
	if revision != 0 {
		t.Fatalf("revision after delete = %d, want 0 (absent)", revision)
	}

	s.BeginTransaction(ctx, 3)
	if err := s.FinalizeInstruction(ctx, mustInstr(t, id, 0, map[string]any{"x": "2"})); err != nil {
		t.Fatalf("FinalizeInstruction(recreate): %v", err)
	}
	s.CommitTransaction(ctx)

	revision, err = s.GetRevisionFor(ctx, id)
	if err != nil {
		t.Fatalf("GetRevisionFor: %v", err)
	}
	if revision != 3 {
		t.Fatalf("revision after recreate = %d, want 3", revision)
	}
}

func TestBoltFinalizeInstructionRejectsCreateOnExisting(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	id := oid{class: "Thing", key: "a"}

	s.BeginTransaction(ctx, 1)
	s.FinalizeInstruction(ctx, mustInstr(t, id, 0, map[string]any{"x": "1"}))
	s.CommitTransaction(ctx)

	s.BeginTransaction(ctx, 2)
	if err := s.FinalizeInstruction(ctx, mustInstr(t, id, 0, map[string]any{"x": "2"})); err == nil {
		t.Fatalf("FinalizeInstruction(create) succeeded on an already-existing object")
	}
}

func TestBoltFinalizeInstructionRejectsUpdateOnMissing(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	id := oid{class: "Thing", key: "a"}

	s.BeginTransaction(ctx, 1)
	if err := s.FinalizeInstruction(ctx, mustInstr(t, id, 1, map[string]any{"x": "1"})); err == nil {
		t.Fatalf("FinalizeInstruction(update) succeeded on a nonexistent object")
	}
}

func TestBoltFinalizeInstructionRejectsStaleRevision(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	id := oid{class: "Thing", key: "a"}

	s.BeginTransaction(ctx, 1)
	s.FinalizeInstruction(ctx, mustInstr(t, id, 0, map[string]any{"x": "1"}))
	s.CommitTransaction(ctx)

	s.BeginTransaction(ctx, 2)
	if err := s.FinalizeInstruction(ctx, mustInstr(t, id, 5, map[string]any{"x": "2"})); err == nil {
		t.Fatalf("FinalizeInstruction(update) succeeded with stale expected revision")
	}
	if err := s.FinalizeInstruction(ctx, mustInstr(t, id, 5, nil)); err == nil {
		t.Fatalf("FinalizeInstruction(delete) succeeded with stale expected revision")
	}
}

func TestBoltRollbackDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	id := oid{class: "Thing", key: "a"}

	s.BeginTransaction(ctx, 1)
	s.FinalizeInstruction(ctx, mustInstr(t, id, 0, map[string]any{"x": "1"}))
	if err := s.RollbackTransaction(ctx, nil); err != nil {
		t.Fatalf("RollbackTransaction: %v", err)
	}

	revision, err := s.GetRevisionFor(ctx, id)
	if err != nil {
		t.Fatalf("GetRevisionFor: %v", err)
	}
	if revision != 0 {
		t.Fatalf("revision after rollback = %d, want 0", revision)
	}
	last, err := s.GetLastRound(ctx)
	if err != nil || last != 0 {
		t.Fatalf("GetLastRound() = %d, %v; want 0, nil", last, err)
	}
}

func TestBoltBeginTransactionTwiceFails(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	if err := s.BeginTransaction(ctx, 1); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := s.BeginTransaction(ctx, 2); err == nil {
		t.Fatalf("BeginTransaction() succeeded while a transaction was already open")
	}
}
