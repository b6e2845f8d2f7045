package fetcher

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSHA256 computes the SHA256 hash of data and returns it as a hex string.
func ComputeSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
