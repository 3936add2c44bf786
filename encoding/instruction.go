package encoding

import (
	"encoding/json"
	"fmt"
)

// Revision is the expected current revision of an instruction's target
// object. A revision of 0 means "the object does not exist yet."
type Revision int64

// Instruction is the triple (oid, revision, payload) describing how the
// state of one object should change. Instructions are immutable once
// constructed.
type Instruction[U OID] struct {
	oid      U
	revision Revision
	payload  any
}

// New constructs a CREATE instruction from entity, or an UPDATE instruction
// from entity.OID() plus attrs when revision > 0. Passing a nil/empty attrs
// map with revision > 0 constructs a DELETE instruction instead.
//
// revision must be >= 0; New rejects anything smaller.
func New[U OID](entity Entity[U], revision Revision, attrs map[string]any) (*Instruction[U], error) {
	if revision < 0 {
		return nil, fmt.Errorf("encoding: revision must be >= 0, got %d", revision)
	}
	instr := &Instruction[U]{oid: entity.OID(), revision: revision}
	if revision == 0 {
		instr.payload = entity
		return instr, nil
	}
	if len(attrs) > 0 {
		instr.payload = attrs
	}
	return instr, nil
}

// newFrom reconstructs an instruction from already-validated internal parts,
// used by Registry decoders reconstructing UPDATE/DELETE instructions whose
// oid is recovered from the wire head rather than a live entity.
func newFrom[U OID](oid U, revision Revision, payload any) *Instruction[U] {
	return &Instruction[U]{oid: oid, revision: revision, payload: payload}
}

// NewFrom is the exported form of newFrom, for Decoder implementations
// living outside this package.
func NewFrom[U OID](oid U, revision Revision, payload any) *Instruction[U] {
	return newFrom(oid, revision, payload)
}

// OID returns the identifier of the object this instruction targets.
func (i *Instruction[U]) OID() U { return i.oid }

// Revision returns the expected current revision of the target object.
func (i *Instruction[U]) Revision() Revision { return i.revision }

// Payload returns the instruction's payload: the Entity[U] for CREATE, a
// map[string]any of changed attributes for UPDATE, or nil for DELETE.
func (i *Instruction[U]) Payload() any { return i.payload }

// Method reports which of CREATE/UPDATE/DELETE this instruction performs,
// derived from revision and payload rather than stored redundantly.
func (i *Instruction[U]) Method() Method {
	if i.revision == 0 {
		return MethodCreate
	}
	if i.payload != nil {
		return MethodUpdate
	}
	return MethodDelete
}

// Serialize produces the canonical reference wire form of the instruction:
// a compact JSON array `[[class_name, *key_parts], revision, payload?]`
// (spec §6.2), with payload omitted for DELETE.
func (i *Instruction[U]) Serialize() ([]byte, error) {
	head := append([]string{i.oid.ClassName()}, i.oid.KeyParts()...)
	elems := make([]any, 0, 3)
	elems = append(elems, head, int64(i.revision))

	switch i.Method() {
	case MethodCreate, MethodUpdate:
		raw, err := json.Marshal(i.payload)
		if err != nil {
			return nil, fmt.Errorf("encoding: marshal payload: %w", err)
		}
		elems = append(elems, json.RawMessage(raw))
	case MethodDelete:
		// payload element omitted entirely
	}

	out, err := json.Marshal(elems)
	if err != nil {
		return nil, fmt.Errorf("encoding: marshal instruction: %w", err)
	}
	return out, nil
}
