package encoding

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Decoder reconstructs one domain class's instructions from the wire head
// (class name already stripped, key parts as they appeared after it),
// revision, and raw JSON payload (nil for DELETE). A single Decoder must
// handle all three methods: CREATE (revision == 0, payload is the full
// entity), UPDATE (revision > 0, payload is a non-empty attribute object),
// and DELETE (revision > 0, payload nil).
type Decoder[U OID] func(keyParts []string, revision Revision, payload json.RawMessage) (*Instruction[U], error)

// Registry maps a domain class name to the Decoder that reconstructs its
// instructions. An application registers one Decoder per domain class and
// keeps the Registry alive for the process's lifetime, mirroring the
// class-name-to-factory registry of the reference implementation.
type Registry[U OID] struct {
	mu       sync.RWMutex
	decoders map[string]Decoder[U]
}

// NewRegistry creates an empty Registry.
func NewRegistry[U OID]() *Registry[U] {
	return &Registry[U]{decoders: make(map[string]Decoder[U])}
}

// Register associates className with dec, overwriting any previous Decoder
// for that class.
func (r *Registry[U]) Register(className string, dec Decoder[U]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[className] = dec
}

// wireHead is the reference instruction wire form, `[[class_name,
// *key_parts], revision, payload?]`, decoded loosely so the class name can
// be resolved before the payload is interpreted.
type wireHead struct {
	head     []string
	revision Revision
	payload  json.RawMessage
}

func parseWireHead(data []byte) (*wireHead, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, err
	}
	if len(elems) < 2 {
		return nil, fmt.Errorf("encoding: instruction array must have at least 2 elements, got %d", len(elems))
	}
	var head []string
	if err := json.Unmarshal(elems[0], &head); err != nil {
		return nil, fmt.Errorf("encoding: decode head: %w", err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("encoding: instruction head missing class name")
	}
	var revision Revision
	if err := json.Unmarshal(elems[1], &revision); err != nil {
		return nil, fmt.Errorf("encoding: decode revision: %w", err)
	}
	w := &wireHead{head: head, revision: revision}
	if len(elems) >= 3 {
		w.payload = elems[2]
	}
	return w, nil
}

// Deserialize reconstructs one Instruction from its canonical wire bytes
// (see Instruction.Serialize), dispatching to the registered Decoder for
// the wire head's class name. It fails with a plain error on any structural
// mismatch or unknown class; the caller (Package's deserialization loop)
// wraps that as a DeserializeError.
func (r *Registry[U]) Deserialize(data []byte) (instr *Instruction[U], err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("encoding: decoder panicked: %v", rec)
		}
	}()

	w, err := parseWireHead(data)
	if err != nil {
		return nil, err
	}

	className, keyParts := w.head[0], w.head[1:]
	r.mu.RLock()
	dec, ok := r.decoders[className]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("encoding: unknown class %q", className)
	}
	return dec(keyParts, w.revision, w.payload)
}
