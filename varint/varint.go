// Package varint implements unsigned LEB128 encoding, the variable-length
// integer format used to frame instruction chunks inside a package body
// (see the encoding package). Groups of 7 bits are emitted least-significant
// first, with the high bit of every byte but the last set to signal
// continuation.
package varint

import (
	"fmt"
	"io"
)

// maxShift bounds decoding to 64 bits of payload (10 groups of 7 bits).
const maxShift = 63

// Append encodes n as an unsigned LEB128 varint and appends it to dst,
// returning the extended slice.
func Append(dst []byte, n uint64) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}

// Encode encodes n as an unsigned LEB128 varint.
func Encode(n uint64) []byte {
	return Append(nil, n)
}

// Decode reads one varint from r. It returns the decoded value and the exact
// bytes consumed, which callers that hash a package body incrementally need
// in order to feed the length prefix into the running digest.
//
// If r hits end-of-stream before any byte is read, Decode returns io.EOF. If
// it hits end-of-stream after a continuation byte (0x80 bit set) has already
// been read, the number is truncated mid-encoding and Decode returns
// io.ErrUnexpectedEOF instead.
func Decode(r io.ByteReader) (value uint64, consumed []byte, err error) {
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(consumed) > 0 {
				return 0, consumed, io.ErrUnexpectedEOF
			}
			return 0, consumed, err
		}
		consumed = append(consumed, b)
		if shift > maxShift {
			return 0, consumed, fmt.Errorf("varint: value overflows 64 bits")
		}
		value |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return value, consumed, nil
		}
	}
}

// byteSliceReader adapts a []byte cursor to io.ByteReader without the
// allocation overhead of bytes.Reader's wider interface.
type byteSliceReader struct {
	b   []byte
	pos int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

// DecodeBytes reads one varint from the front of buf. It returns the decoded
// value and the number of bytes consumed.
func DecodeBytes(buf []byte) (value uint64, n int, err error) {
	r := &byteSliceReader{b: buf}
	value, consumed, err := Decode(r)
	return value, len(consumed), err
}
