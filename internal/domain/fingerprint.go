package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Fingerprint derives the stable alert identity for deduplication and
// suppression lookups: hash of (customer, signal, entity label).
func Fingerprint(customerID string, signal SignalType, entityLabel string) string {
	h := sha256.New()
	h.Write([]byte(customerID))
	h.Write([]byte{0})
	h.Write([]byte(signal))
	h.Write([]byte{0})
	h.Write([]byte(entityLabel))
	return hex.EncodeToString(h.Sum(nil))
}

// CooldownBucket maps a creation time onto its cooldown bucket boundary. The
// unique index on (fingerprint, cooldown_bucket) backstops concurrent runs
// that both pass the duplicate check.
func CooldownBucket(t time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(window)
}
