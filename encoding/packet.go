package encoding

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"io"

	"github.com/rubinsync/celestorm/varint"
)

// Version is the only package wire version this codec understands.
const Version = 1

const (
	flagDigest    = 0b0100_0000
	flagSignature = 0b1000_0000
	versionMask   = 0b0011_1111
)

// Hasher computes the package digest. The zero value of the codec uses
// SHA-256 (crypto/sha256); callers may substitute any hash.Hash, including
// the one returned by NewSHA3Hasher.
type Hasher = hash.Hash

// Signer produces a detached signature over a package digest.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
}

// Verifier checks a detached signature over a package digest and reports
// the signature's fixed size so the package reader knows how many trailing
// bytes to consume.
type Verifier interface {
	Verify(digest, signature []byte) bool
	SignatureSize() int
}

// Package is an immutable, framed, hashed, optionally signed byte string
// containing a sequence of serialized instructions (spec §3, §6.1).
type Package[U OID] []byte

type buildConfig struct {
	hasher func() Hasher
	signer Signer
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithHasher selects the hash algorithm used for the digest. Default:
// SHA-256.
func WithHasher(newHasher func() Hasher) BuildOption {
	return func(c *buildConfig) { c.hasher = newHasher }
}

// WithSigner signs the digest and sets the signature-present flag.
func WithSigner(signer Signer) BuildOption {
	return func(c *buildConfig) { c.signer = signer }
}

// Build serializes each instruction, prepends its varint length, concatenates
// the chunks, computes a digest over the header-plus-body region, appends
// it, and (with WithSigner) appends a detached signature over the digest.
//
// Build fails with a SerializeError if there are more than 65535
// instructions or any instruction fails to serialize.
func Build[U OID](instructions []*Instruction[U], opts ...BuildOption) (Package[U], error) {
	cfg := buildConfig{hasher: func() Hasher { return sha256.New() }}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(instructions) > 0xFFFF {
		return nil, NewSerializeError("Too many instructions; maximum package size is 65535", nil)
	}

	flags := byte(Version) | flagDigest
	if cfg.signer != nil {
		flags |= flagSignature
	}

	h := cfg.hasher()
	out := make([]byte, 3, 3+len(instructions)*16)
	out[0] = flags
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(instructions)))
	h.Write(out[:3])

	for _, instr := range instructions {
		ser, err := instr.Serialize()
		if err != nil {
			return nil, NewSerializeError("instruction serialization failed", err)
		}
		chunk := varint.Append(nil, uint64(len(ser)))
		chunk = append(chunk, ser...)
		h.Write(chunk)
		out = append(out, chunk...)
	}

	digest := h.Sum(nil)
	out = append(out, digest...)

	if cfg.signer != nil {
		sig, err := cfg.signer.Sign(digest)
		if err != nil {
			return nil, NewSerializeError("signing failed", err)
		}
		out = append(out, sig...)
	}

	return Package[U](out), nil
}

// Open constructs an in-memory handle over an existing byte string. It
// performs only the minimal sanity check needed for O(1) accessors (a
// 3-byte header); full header and body validation happens in Deserialize.
func Open[U OID](data []byte) (Package[U], error) {
	if len(data) < 3 {
		return nil, NewDeserializeError("Wrong package header", nil)
	}
	return Package[U](data), nil
}

// rawVersion returns the low 6 bits of the flags byte.
func (p Package[U]) rawVersion() byte { return p[0] & versionMask }

// SignaturePresent reports whether bit7 of the flags byte is set.
func (p Package[U]) SignaturePresent() bool { return p[0]&flagSignature != 0 }

// DigestPresent reports whether bit6 of the flags byte is set.
func (p Package[U]) DigestPresent() bool { return p[0]&flagDigest != 0 }

// Count returns the declared instruction count, N.
func (p Package[U]) Count() uint16 { return binary.LittleEndian.Uint16(p[1:3]) }

// defaultSignatureSize is the trailing signature length of the standard
// Ed25519 dialect. Digest and Body always assume it when the signature flag
// is set; Signature uses it when called with sigSize <= 0.
const defaultSignatureSize = 64

// Digest returns the package's trailing digest bytes, if the digest flag is
// set. hashSize must match the size of the hash used to build the package
// (32 for the default SHA-256 dialect).
func (p Package[U]) Digest(hashSize int) ([]byte, bool) {
	if !p.DigestPresent() {
		return nil, false
	}
	sigLen := 0
	if p.SignaturePresent() {
		sigLen = defaultSignatureSize
	}
	end := len(p) - sigLen
	start := end - hashSize
	if start < 3 || start > end || end > len(p) {
		return nil, false
	}
	return p[start:end], true
}

// Signature returns the package's trailing signature bytes, if the
// signature flag is set.
func (p Package[U]) Signature(sigSize int) ([]byte, bool) {
	if !p.SignaturePresent() {
		return nil, false
	}
	if sigSize <= 0 {
		sigSize = defaultSignatureSize
	}
	start := len(p) - sigSize
	if start < 3 {
		return nil, false
	}
	return p[start:], true
}

// Body returns the N-chunk region between the 3-byte header and the
// trailing digest/signature, assuming a hashSize-byte digest and, when the
// signature flag is set, a defaultSignatureSize-byte signature.
func (p Package[U]) Body(hashSize int) []byte {
	sigLen := 0
	if p.SignaturePresent() {
		sigLen = defaultSignatureSize
	}
	digestLen := 0
	if p.DigestPresent() {
		digestLen = hashSize
	}
	end := len(p) - sigLen - digestLen
	if end < 3 {
		end = 3
	}
	return p[3:end]
}

// sliceByteReader adapts a byte slice to io.ByteReader for varint.Decode,
// tracking how many bytes have been consumed.
type sliceByteReader struct {
	b []byte
	i int
}

func (r *sliceByteReader) ReadByte() (byte, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	c := r.b[r.i]
	r.i++
	return c, nil
}

type verifyConfig struct {
	hasher   func() Hasher
	verifier Verifier
}

// VerifyOption configures Deserialize.
type VerifyOption func(*verifyConfig)

// WithVerifyHasher selects the hash algorithm used to recompute the digest.
// Must match the hasher Build used. Default: SHA-256.
func WithVerifyHasher(newHasher func() Hasher) VerifyOption {
	return func(c *verifyConfig) { c.hasher = newHasher }
}

// WithVerifier checks the trailing signature against verifier after the
// digest itself has been confirmed.
func WithVerifier(verifier Verifier) VerifyOption {
	return func(c *verifyConfig) { c.verifier = verifier }
}

// Iterator yields instructions out of a Package one at a time, verifying
// the trailing digest (and, if configured, signature) only once every
// declared chunk has been read.
type Iterator[U OID] struct {
	pkg      Package[U]
	reg      *Registry[U]
	hasher   Hasher
	verifier Verifier
	count    uint16
	read     uint16
	pos      int
	done     bool
}

// Deserialize verifies the package's 3-byte header (version must equal
// Version) and returns a lazy Iterator over its instructions. Invalid
// header version fails immediately with a DeserializeError; integrity
// failures (hash/signature mismatch) surface from Next once the last chunk
// has been consumed.
func (p Package[U]) Deserialize(reg *Registry[U], opts ...VerifyOption) (*Iterator[U], error) {
	if len(p) < 3 {
		return nil, NewDeserializeError("Wrong package header", nil)
	}
	cfg := verifyConfig{hasher: func() Hasher { return sha256.New() }}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := cfg.hasher()
	h.Write(p[0:1])
	if p.rawVersion() != Version {
		return nil, NewDeserializeError("Wrong package version", nil)
	}
	h.Write(p[1:3])
	count := binary.LittleEndian.Uint16(p[1:3])

	return &Iterator[U]{
		pkg:      p,
		reg:      reg,
		hasher:   h,
		verifier: cfg.verifier,
		count:    count,
		pos:      3,
	}, nil
}

// Next returns the next instruction, or ok=false once the sequence (and its
// trailing digest/signature) has been fully and successfully consumed. A
// non-nil error means the package failed verification or a chunk could not
// be decoded; the iterator must not be used again afterward.
func (it *Iterator[U]) Next() (instr *Instruction[U], ok bool, err error) {
	if it.done {
		return nil, false, nil
	}
	if it.read == it.count {
		return it.finish()
	}

	r := &sliceByteReader{b: it.pkg[it.pos:]}
	size, consumed, err := varint.Decode(r)
	if err != nil {
		it.done = true
		return nil, false, NewDeserializeError("Wrong package size", err)
	}
	it.hasher.Write(consumed)
	it.pos += len(consumed)

	if len(it.pkg)-it.pos < int(size) {
		it.done = true
		return nil, false, NewDeserializeError("Wrong package size", nil)
	}
	chunk := it.pkg[it.pos : it.pos+int(size)]
	it.pos += int(size)
	it.hasher.Write(chunk)

	decoded, derr := it.reg.Deserialize(chunk)
	if derr != nil {
		it.done = true
		return nil, false, NewDeserializeError("Cannot deserialize instruction", derr)
	}
	it.read++
	return decoded, true, nil
}

func (it *Iterator[U]) finish() (*Instruction[U], bool, error) {
	it.done = true
	digestSize := it.hasher.Size()
	if len(it.pkg)-it.pos < digestSize {
		return nil, false, NewDeserializeError("Wrong package size", nil)
	}
	gotDigest := it.pkg[it.pos : it.pos+digestSize]
	it.pos += digestSize
	wantDigest := it.hasher.Sum(nil)
	if !bytes.Equal(gotDigest, wantDigest) {
		return nil, false, NewVerifyError("Wrong package hash")
	}

	if it.verifier != nil {
		sigSize := it.verifier.SignatureSize()
		if len(it.pkg)-it.pos < sigSize {
			return nil, false, NewVerifyError("Wrong package signature")
		}
		sig := it.pkg[it.pos : it.pos+sigSize]
		it.pos += sigSize
		if !it.verifier.Verify(wantDigest, sig) {
			return nil, false, NewVerifyError("Wrong package signature")
		}
	}
	return nil, false, nil
}

// All drains the iterator into a slice, for callers that don't need
// streaming consumption (tests, small batches).
func (it *Iterator[U]) All() ([]*Instruction[U], error) {
	var out []*Instruction[U]
	for {
		instr, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, instr)
	}
}

// Verify reports whether the package deserializes and verifies cleanly
// under reg/verifier, swallowing DeserializeError/VerifyError into false
// rather than propagating them (mirrors the reference's non-raising
// `Package.verify`).
func (p Package[U]) Verify(reg *Registry[U], opts ...VerifyOption) bool {
	it, err := p.Deserialize(reg, opts...)
	if err != nil {
		return false
	}
	_, err = it.All()
	return err == nil
}
