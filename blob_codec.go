package pagestore

import (
	"github.com/klauspost/compress/zstd"

	"github.com/calvinalkan/pagestore/internal/perr"
)

// blobEnvelopeRaw and blobEnvelopeZstd tag the one-byte prefix every stored
// blob carries. The prefix lives inside the blob's own payload bytes, not in
// internal/heap's object header - that header's layout (type index + slot
// index, 8 bytes total) is fixed by §4.5.1 and round-trip-verified by the
// heap itself, so compression is layered on top as an opaque transformation
// of the bytes the heap is asked to store, the same way a caller is free to
// gzip a value before handing it to any other opaque byte store.
const (
	blobEnvelopeRaw  byte = 0
	blobEnvelopeZstd byte = 1
)

// newBlobCodec builds the encoder/decoder pair used to transparently
// compress blobs at or above threshold bytes. threshold <= 0 disables
// compression entirely; InsertBlob then only prepends the one-byte "raw"
// tag.
func newBlobCodec(threshold int) (*zstd.Encoder, *zstd.Decoder, error) {
	if threshold <= 0 {
		return nil, nil, nil
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, nil, perr.Wrap(perr.ErrIO, "pagestore: build zstd encoder", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, perr.Wrap(perr.ErrIO, "pagestore: build zstd decoder", err)
	}

	return enc, dec, nil
}

// encodeBlob prepends the envelope tag and, once payload is at least
// compressThreshold bytes and compression is enabled, compresses it.
func (db *Database) encodeBlob(payload []byte) []byte {
	if db.zstdEnc == nil || len(payload) < db.compressThreshold {
		out := make([]byte, 1+len(payload))
		out[0] = blobEnvelopeRaw
		copy(out[1:], payload)

		return out
	}

	dst := make([]byte, 1, len(payload)/2+16)
	dst[0] = blobEnvelopeZstd

	return db.zstdEnc.EncodeAll(payload, dst)
}

// decodeBlob strips the envelope tag, decompressing if needed.
func (db *Database) decodeBlob(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, perr.New(perr.ErrCorruption, "pagestore: blob: empty stored payload")
	}

	body := stored[1:]

	switch stored[0] {
	case blobEnvelopeRaw:
		return body, nil
	case blobEnvelopeZstd:
		if db.zstdDec == nil {
			return nil, perr.New(perr.ErrCorruption, "pagestore: blob: compressed payload but no decompressor configured")
		}

		decoded, err := db.zstdDec.DecodeAll(body, nil)
		if err != nil {
			return nil, perr.Wrap(perr.ErrCorruption, "pagestore: blob: zstd decode", err)
		}

		return decoded, nil
	default:
		return nil, perr.New(perr.ErrCorruption, "pagestore: blob: unknown envelope tag")
	}
}
