// Package sample implements two small domain classes, Account and Message,
// exercising the encoding/storage/execution stack end to end the way the
// reference implementation's sample dataclasses do.
package sample

import (
	"encoding/json"
	"fmt"

	"github.com/rubinsync/celestorm/encoding"
)

// Account is a named balance keyed by address.
type Account struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
}

func (a *Account) OID() OID { return newOID("Account", a.Address) }

// RegisterAccount adds the Account decoder to reg.
func RegisterAccount(reg *encoding.Registry[OID]) {
	reg.Register("Account", decodeAccount)
}

func decodeAccount(keyParts []string, revision encoding.Revision, payload json.RawMessage) (*encoding.Instruction[OID], error) {
	if len(keyParts) != 1 {
		return nil, fmt.Errorf("sample: Account key must have 1 part, got %d", len(keyParts))
	}
	oid := newOID("Account", keyParts[0])

	if revision == 0 {
		var acct Account
		if err := json.Unmarshal(payload, &acct); err != nil {
			return nil, fmt.Errorf("sample: decode Account: %w", err)
		}
		acct.Address = keyParts[0]
		return encoding.NewFrom[OID](oid, revision, &acct), nil
	}
	if payload == nil {
		return encoding.NewFrom[OID](oid, revision, nil), nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return nil, fmt.Errorf("sample: decode Account attrs: %w", err)
	}
	return encoding.NewFrom[OID](oid, revision, attrs), nil
}
