package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const fingerprintGroups = 3

// Fingerprint hashes keys in order and renders the first 15 bytes as three
// space separated groups of ten hex digits, for comparison out of band.
func Fingerprint(keys ...[]byte) string {
	h := sha256.New()
	for _, k := range keys {
		h.Write(k)
	}
	digits := hex.EncodeToString(h.Sum(nil)[:5*fingerprintGroups])

	groups := make([]string, 0, fingerprintGroups)
	for i := 0; i < len(digits); i += 10 {
		groups = append(groups, digits[i:i+10])
	}
	return strings.Join(groups, " ")
}
