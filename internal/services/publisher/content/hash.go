// Package content provides content addressing and the content-addressed
// store client. Identical bytes always map to the identical address, so
// storing the same content twice is a no-op beyond returning the existing
// hash.
package content

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashSize is the digest size in bytes.
const HashSize = 32

// HashBytes returns the hex-encoded BLAKE3-256 address of data. The address
// is a pure function of the bytes; no request or identity state feeds it.
func HashBytes(data []byte) string {
	digest := blake3.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// ParseHash validates a hex-encoded content address.
func ParseHash(value string) ([HashSize]byte, error) {
	var digest [HashSize]byte
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return digest, fmt.Errorf("parse content hash: %w", err)
	}
	if len(decoded) != HashSize {
		return digest, fmt.Errorf("content hash is %d bytes, want %d", len(decoded), HashSize)
	}
	copy(digest[:], decoded)
	return digest, nil
}
