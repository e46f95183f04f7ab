// Package contenthash derives the content-addressed incident identifier.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"notice_ingest/internal/textnorm"
)

// DigestLen is the number of hex characters kept from the SHA-256 digest.
const DigestLen = 12

// Compute returns "{slug}_{digest}" where digest is the truncated SHA-256 of
// "{slug}:{normalize(title)}:{normalize(body)}". Inputs are normalized here
// so callers cannot bypass it.
func Compute(slug, title, body string) string {
	sum := sha256.Sum256([]byte(slug + ":" + textnorm.Normalize(title) + ":" + textnorm.Normalize(body)))
	return slug + "_" + hex.EncodeToString(sum[:])[:DigestLen]
}

// Valid reports whether id has the shape produced by Compute.
func Valid(id string) bool {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || len(id)-i-1 != DigestLen {
		return false
	}
	_, err := hex.DecodeString(id[i+1:])
	return err == nil
}
