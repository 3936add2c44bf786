package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/rubinsync/celestorm/encoding"
)

// record is one object's current state.
type record[U encoding.OID] struct {
	revision encoding.Revision
	payload  any
}

// overlayEntry is one pending write in the working transaction: either an
// upsert (rec holds the new state) or a tombstone marking the key for
// removal from the committed map.
type overlayEntry[U encoding.OID] struct {
	rec     record[U]
	deleted bool
}

// Memory is a copy-on-write, in-process TransactedStorage reference
// implementation. A single in-flight transaction collects its writes in a
// working overlay; CommitTransaction folds the overlay into the committed
// map (deleting tombstoned keys outright), RollbackTransaction discards it.
type Memory[U encoding.OID] struct {
	mu        sync.RWMutex
	objects   map[U]record[U]
	lastRound int64

	txRound int64
	txOpen  bool
	working map[U]overlayEntry[U]
}

// NewMemory creates an empty Memory store.
func NewMemory[U encoding.OID]() *Memory[U] {
	return &Memory[U]{objects: make(map[U]record[U])}
}

func (m *Memory[U]) GetLastRound(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRound, nil
}

func (m *Memory[U]) GetRevisionFor(ctx context.Context, oid U) (encoding.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	revision, _, _ := m.current(oid)
	return revision, nil
}

// RoundAccepted reports whether any committed object's revision equals
// round: the reference implementation has no separate round index, so this
// is a linear scan of the committed object map.
func (m *Memory[U]) RoundAccepted(ctx context.Context, round int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.objects {
		if int64(rec.revision) == round {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory[U]) BeginTransaction(ctx context.Context, round int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txOpen {
		return fmt.Errorf("storage: transaction already open for round %d", m.txRound)
	}
	m.txOpen = true
	m.txRound = round
	m.working = make(map[U]overlayEntry[U])
	return nil
}

// current returns oid's revision and payload as seen by the in-flight
// transaction (falling back to the committed map), and whether the object
// currently exists (false once deleted, whether or not that deletion has
// been committed yet).
func (m *Memory[U]) current(oid U) (revision encoding.Revision, payload any, exists bool) {
	if m.txOpen {
		if entry, ok := m.working[oid]; ok {
			if entry.deleted {
				return 0, nil, false
			}
			return entry.rec.revision, entry.rec.payload, true
		}
	}
	rec, ok := m.objects[oid]
	return rec.revision, rec.payload, ok
}

func (m *Memory[U]) FinalizeInstruction(ctx context.Context, instr *encoding.Instruction[U]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.txOpen {
		return fmt.Errorf("storage: no open transaction")
	}
	oid := instr.OID()
	revision, payload, exists := m.current(oid)

	switch instr.Method() {
	case encoding.MethodCreate:
		if exists {
			return fmt.Errorf("storage: cannot create %v: object already exists at revision %d", oid, revision)
		}
		m.working[oid] = overlayEntry[U]{rec: record[U]{revision: encoding.Revision(m.txRound), payload: instr.Payload()}}
	case encoding.MethodUpdate:
		if !exists {
			return fmt.Errorf("storage: cannot update %v: object does not exist", oid)
		}
		if revision != instr.Revision() {
			return fmt.Errorf("storage: cannot update %v: expected revision %d, have %d", oid, instr.Revision(), revision)
		}
		merged := mergeAttrs(payload, instr.Payload())
		m.working[oid] = overlayEntry[U]{rec: record[U]{revision: encoding.Revision(m.txRound), payload: merged}}
	case encoding.MethodDelete:
		if !exists {
			return fmt.Errorf("storage: cannot delete %v: object does not exist", oid)
		}
		if revision != instr.Revision() {
			return fmt.Errorf("storage: cannot delete %v: expected revision %d, have %d", oid, instr.Revision(), revision)
		}
		m.working[oid] = overlayEntry[U]{deleted: true}
	}
	return nil
}

func mergeAttrs(base any, patch any) any {
	baseMap, _ := base.(map[string]any)
	patchMap, _ := patch.(map[string]any)
	out := make(map[string]any, len(baseMap)+len(patchMap))
	for k, v := range baseMap {
		out[k] = v
	}
	for k, v := range patchMap {
		out[k] = v
	}
	return out
}

func (m *Memory[U]) CommitTransaction(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.txOpen {
		return fmt.Errorf("storage: no open transaction")
	}
	for oid, entry := range m.working {
		if entry.deleted {
			delete(m.objects, oid)
			continue
		}
		m.objects[oid] = entry.rec
	}
	m.lastRound = m.txRound
	m.txOpen = false
	m.working = nil
	return nil
}

func (m *Memory[U]) RollbackTransaction(ctx context.Context, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txOpen = false
	m.working = nil
	return nil
}

// Get returns the committed payload and revision for oid, for tests and
// callers that need to inspect state outside a transaction.
func (m *Memory[U]) Get(oid U) (payload any, revision encoding.Revision, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, exists := m.objects[oid]
	if !exists {
		return nil, 0, false
	}
	return rec.payload, rec.revision, true
}
