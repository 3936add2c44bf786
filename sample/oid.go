package sample

import "strings"

// keySep separates an OID's individual key parts when packed into the
// single comparable string Go's map-key requirement allows; the reference
// implementation instead holds a literal tuple of heterogeneous parts.
const keySep = "\x1f"

// OID is the single object identifier type shared by every domain class in
// this sample, mirroring the reference's `(dataclass_type, keys)` pair
// collapsed into one comparable Go value.
type OID struct {
	class string
	key   string
}

func newOID(class string, parts ...string) OID {
	return OID{class: class, key: strings.Join(parts, keySep)}
}

func (o OID) ClassName() string { return o.class }

func (o OID) KeyParts() []string {
	if o.key == "" {
		return nil
	}
	return strings.Split(o.key, keySep)
}
