package codec

import "github.com/spaolacci/murmur3"

// HashKeyFunc derives a fixed-size (8-byte big-endian) key from an
// arbitrary-length value by hashing it with murmur3. It is an opt-in
// alternative to the default first-KeySize-bytes [btree.KeyFunc], for values that don't already carry a natural fixed-size
// key prefix (e.g. variable-length records living in the blob heap,
// addressed in the tree by content hash rather than by an explicit key
// field).
//
// Two distinct values hashing to the same key is possible (the tree treats
// hash collisions as duplicate keys, same as any content-addressed index);
// callers that can't tolerate that should derive a real key instead.
func HashKeyFunc(value []byte) []byte {
	var buf [8]byte
	PutUint64(buf[:], murmur3.Sum64(value))

	return buf[:]
}
