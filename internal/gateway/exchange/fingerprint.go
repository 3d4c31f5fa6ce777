package exchange

import (
	"crypto/sha256"
	"encoding/hex"

	"dipbot/internal/types"
)

// Fingerprint derives a stable cache key from a credential pair. The worker
// rebuilds a user's client whenever this value changes.
func Fingerprint(creds types.Credentials) string {
	if !creds.Valid() {
		return ""
	}
	sum := sha256.Sum256([]byte(creds.APIKey + ":" + creds.APISecret))
	return hex.EncodeToString(sum[:8])
}
