package sample

import (
	"encoding/json"
	"fmt"

	"github.com/rubinsync/celestorm/encoding"
)

// Message is a timestamped note keyed by (address, timestamp).
type Message struct {
	Address   string `json:"address"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"message"`
}

func (m *Message) OID() OID { return newOID("Message", m.Address, m.Timestamp) }

// RegisterMessage adds the Message decoder to reg.
func RegisterMessage(reg *encoding.Registry[OID]) {
	reg.Register("Message", decodeMessage)
}

func decodeMessage(keyParts []string, revision encoding.Revision, payload json.RawMessage) (*encoding.Instruction[OID], error) {
	if len(keyParts) != 2 {
		return nil, fmt.Errorf("sample: Message key must have 2 parts, got %d", len(keyParts))
	}
	oid := newOID("Message", keyParts[0], keyParts[1])

	if revision == 0 {
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("sample: decode Message: %w", err)
		}
		msg.Address, msg.Timestamp = keyParts[0], keyParts[1]
		return encoding.NewFrom[OID](oid, revision, &msg), nil
	}
	if payload == nil {
		return encoding.NewFrom[OID](oid, revision, nil), nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return nil, fmt.Errorf("sample: decode Message attrs: %w", err)
	}
	return encoding.NewFrom[OID](oid, revision, attrs), nil
}

// NewRegistry builds a Registry with both Account and Message decoders
// registered, ready for use by the execution layer or package Deserialize.
func NewRegistry() *encoding.Registry[OID] {
	reg := encoding.NewRegistry[OID]()
	RegisterAccount(reg)
	RegisterMessage(reg)
	return reg
}
