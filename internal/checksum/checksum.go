// Package checksum provides the content digest used for change detection
// and message row identifiers.
package checksum

import (
	"crypto/sha512"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-512 digest of data.
func Sum(data []byte) string {
	h := sha512.Sum512(data)
	return hex.EncodeToString(h[:])
}

// String is Sum for text.
func String(s string) string {
	return Sum([]byte(s))
}
