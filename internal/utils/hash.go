package utils

import (
	"crypto/sha256"
	"fmt"
)

// ContentHash fingerprints a raw message body for de-duplication and
// integrity checks.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}
