package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint derives the cache key for a piece of content plus an option
// set. encoding/json marshals maps with sorted keys, so two option maps that
// are equal as unordered maps always serialize identically and yield the
// same key. Any difference in content or options changes the digest.
func Fingerprint(content []byte, options map[string]string) string {
	hasher := sha256.New()
	hasher.Write(content)
	if len(options) > 0 {
		// Marshal of map[string]string cannot fail.
		encoded, _ := json.Marshal(options)
		hasher.Write(encoded)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
