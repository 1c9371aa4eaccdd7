// Package codec implements the fixed-size, big-endian serialization rules
// every persisted pagestore structure follows (anchors, B+tree nodes, blob
// heap headers, journal records).
//
// Every type usable in persistent storage has a fixed serialized size known
// ahead of time; variable-length data only ever lives in the blob heap
// (package heap). This mirrors prequel's serialization.hpp, which computes
// fixed sizes at compile time via get_binary_format descriptors - see
// format.go for the runtime equivalent.
package codec

import (
	"encoding/binary"
	"math"
)

// PutUint16/32/64 and GetUint16/32/64 wrap encoding/binary.BigEndian; they
// exist so call sites read "codec.PutUint64" next to the rest of the fixed
// field writers below instead of mixing import aliases.

func PutUint16(buf []byte, v uint16) { binary.BigEndian.PutUint16(buf, v) }
func GetUint16(buf []byte) uint16    { return binary.BigEndian.Uint16(buf) }

func PutUint32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func GetUint32(buf []byte) uint32    { return binary.BigEndian.Uint32(buf) }

func PutUint64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }
func GetUint64(buf []byte) uint64    { return binary.BigEndian.Uint64(buf) }

func PutInt32(buf []byte, v int32) { binary.BigEndian.PutUint32(buf, uint32(v)) }
func GetInt32(buf []byte) int32    { return int32(binary.BigEndian.Uint32(buf)) }

func PutInt64(buf []byte, v int64) { binary.BigEndian.PutUint64(buf, uint64(v)) }
func GetInt64(buf []byte) int64    { return int64(binary.BigEndian.Uint64(buf)) }

// PutFloat64 bit-casts v to its IEC 559 representation and serializes it
// big-endian, per §6.4.
func PutFloat64(buf []byte, v float64) { binary.BigEndian.PutUint64(buf, math.Float64bits(v)) }
func GetFloat64(buf []byte) float64    { return math.Float64frombits(binary.BigEndian.Uint64(buf)) }

func PutFloat32(buf []byte, v float32) { binary.BigEndian.PutUint32(buf, math.Float32bits(v)) }
func GetFloat32(buf []byte) float32    { return math.Float32frombits(binary.BigEndian.Uint32(buf)) }

// PutBool writes a single 0/1 byte.
func PutBool(buf []byte, v bool) {
	if v {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
}

func GetBool(buf []byte) bool { return buf[0] != 0 }

// PutOptional writes the one-byte presence tag (0 absent, 1 present)
// followed by payload into a slot of size 1+len(payload). The caller has
// already serialized payload into the fixed-size slot; if absent, the
// payload bytes are zeroed.
func PutOptional(buf []byte, present bool, payload []byte) {
	PutBool(buf[0:1], present)
	copy(buf[1:], payload)

	if !present {
		clear(buf[1 : 1+len(payload)])
	}
}

// GetOptional reports whether the slot is present and returns the payload
// sub-slice (still len(payload) bytes, regardless of presence).
func GetOptional(buf []byte, payloadSize int) (present bool, payload []byte) {
	return GetBool(buf[0:1]), buf[1 : 1+payloadSize]
}

// OptionalSize returns the total serialized size of an optional wrapping a
// payload of the given size.
func OptionalSize(payloadSize int) int { return 1 + payloadSize }

// MaxUnionAlternatives is the bound from §6.4: a tagged union's alternative
// index fits in one byte and is bounded at 16 alternatives.
const MaxUnionAlternatives = 16

// PutUnionTag writes the one-byte alternative index. alt must be in
// [0, MaxUnionAlternatives).
func PutUnionTag(buf []byte, alt int) {
	if alt < 0 || alt >= MaxUnionAlternatives {
		panic("codec: union alternative out of range")
	}

	buf[0] = byte(alt)
}

func GetUnionTag(buf []byte) int { return int(buf[0]) }

// UnionSize returns the serialized size of a tagged union given the size of
// its largest alternative.
func UnionSize(maxAltSize int) int { return 1 + maxAltSize }
