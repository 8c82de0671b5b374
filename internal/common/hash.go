package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ScopedKey builds a Redis key of the form "<prefix>:<hex digest>" from the
// given parts. Parts are joined with "|" before hashing, so caller supplied
// values never leak into key names.
func ScopedKey(prefix string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return prefix + ":" + hex.EncodeToString(sum[:])
}
