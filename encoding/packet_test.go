package encoding_test

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rubinsync/celestorm/encoding"
)

type testOID struct {
	class string
	key   string
}

func (o testOID) ClassName() string  { return o.class }
func (o testOID) KeyParts() []string { return []string{o.key} }

type testEntity struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (e *testEntity) OID() testOID { return testOID{class: "Thing", key: e.Key} }

func registry() *encoding.Registry[testOID] {
	reg := encoding.NewRegistry[testOID]()
	reg.Register("Thing", func(keyParts []string, revision encoding.Revision, payload json.RawMessage) (*encoding.Instruction[testOID], error) {
		oid := testOID{class: "Thing", key: keyParts[0]}
		if revision == 0 {
			var e testEntity
			if err := json.Unmarshal(payload, &e); err != nil {
				return nil, err
			}
			return encoding.NewFrom[testOID](oid, revision, &e), nil
		}
		if payload == nil {
			return encoding.NewFrom[testOID](oid, revision, nil), nil
		}
		var attrs map[string]any
		if err := json.Unmarshal(payload, &attrs); err != nil {
			return nil, err
		}
		return encoding.NewFrom[testOID](oid, revision, attrs), nil
	})
	return reg
}

func mustInstructions(t *testing.T, n int) []*encoding.Instruction[testOID] {
	t.Helper()
	var out []*encoding.Instruction[testOID]
	for i := 0; i < n; i++ {
		e := &testEntity{Key: fmt.Sprintf("k%d", i), Value: "v"}
		instr, err := encoding.New[testOID](e, 0, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		out = append(out, instr)
	}
	return out
}

func TestBuildDeserializeRoundTrip(t *testing.T) {
	instructions := mustInstructions(t, 5)
	pkg, err := encoding.Build[testOID](instructions)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	reg := registry()
	it, err := pkg.Deserialize(reg)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	got, err := it.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != len(instructions) {
		t.Fatalf("got %d instructions, want %d", len(got), len(instructions))
	}
	for i, instr := range got {
		want := instructions[i]
		if instr.OID() != want.OID() {
			t.Fatalf("instr[%d].OID() = %v, want %v", i, instr.OID(), want.OID())
		}
		gotEntity, ok := instr.Payload().(*testEntity)
		if !ok {
			t.Fatalf("instr[%d] payload type = %T", i, instr.Payload())
		}
		wantEntity := want.Payload().(*testEntity)
		if *gotEntity != *wantEntity {
			t.Fatalf("instr[%d] payload = %+v, want %+v", i, gotEntity, wantEntity)
		}
	}
}

func TestBuildEmptyPackage(t *testing.T) {
	pkg, err := encoding.Build[testOID](nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if pkg.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", pkg.Count())
	}
	if !pkg.Verify(registry()) {
		t.Fatalf("Verify() = false for untampered empty package")
	}
}

func TestVerifySucceedsOnCleanPackage(t *testing.T) {
	pkg, err := encoding.Build[testOID](mustInstructions(t, 3))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !pkg.Verify(registry()) {
		t.Fatalf("Verify() = false, want true")
	}
}

func TestTamperedBodyFailsDigestCheck(t *testing.T) {
	pkg, err := encoding.Build[testOID](mustInstructions(t, 3))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tampered := append([]byte(nil), pkg...)
	tampered[43] = 'w' // first chunk's "value":"v" becomes "w"; the chunk still decodes
	if encoding.Package[testOID](tampered).Verify(registry()) {
		t.Fatalf("Verify() = true for tampered body, want false")
	}

	it, err := encoding.Package[testOID](tampered).Deserialize(registry())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if _, err := it.All(); err == nil {
		t.Fatalf("All() succeeded on tampered package")
	} else if !encoding.IsVerifyError(err) {
		t.Fatalf("All() error = %v, want VerifyError", err)
	}
}

func TestTamperedLengthPrefixFailsDeserialize(t *testing.T) {
	pkg, err := encoding.Build[testOID](mustInstructions(t, 1))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tampered := append([]byte(nil), pkg...)
	tampered[3] = 0x7f // declare an implausibly long first chunk
	it, err := encoding.Package[testOID](tampered).Deserialize(registry())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if _, err := it.All(); err == nil {
		t.Fatalf("All() succeeded on corrupted length prefix")
	} else if !encoding.IsDeserializeError(err) {
		t.Fatalf("All() error = %v, want DeserializeError", err)
	}
}

func TestWrongVersionRejected(t *testing.T) {
	pkg, err := encoding.Build[testOID](mustInstructions(t, 1))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tampered := append([]byte(nil), pkg...)
	tampered[0] = (tampered[0] &^ 0x3f) | 0x02 // version 2, flags preserved
	_, err = encoding.Package[testOID](tampered).Deserialize(registry())
	if err == nil || !encoding.IsDeserializeError(err) {
		t.Fatalf("Deserialize() error = %v, want DeserializeError", err)
	}
}

func TestBinaryRoundTripIsDeterministic(t *testing.T) {
	instructions := mustInstructions(t, 3)
	pkg1, err := encoding.Build[testOID](instructions)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	pkg2, err := encoding.Build[testOID](instructions)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if string(pkg1) != string(pkg2) {
		t.Fatalf("Build is not deterministic across identical inputs")
	}
}

func TestSignedPackageVerifiesWithCorrectKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pkg, err := encoding.Build[testOID](mustInstructions(t, 2), encoding.WithSigner(encoding.Ed25519Signer{Key: priv}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !pkg.SignaturePresent() {
		t.Fatalf("SignaturePresent() = false")
	}
	ok := pkg.Verify(registry(), encoding.WithVerifier(encoding.Ed25519Verifier{Key: pub}))
	if !ok {
		t.Fatalf("Verify() = false with correct key")
	}

	_, wrongPub, _ := ed25519.GenerateKey(nil)
	_ = wrongPub
	otherPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if pkg.Verify(registry(), encoding.WithVerifier(encoding.Ed25519Verifier{Key: otherPub})) {
		t.Fatalf("Verify() = true with wrong key")
	}
}
