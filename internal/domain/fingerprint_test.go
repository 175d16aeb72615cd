package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("cust-1", SignalDenialRate, "acme-health/office-visits")
	b := Fingerprint("cust-1", SignalDenialRate, "acme-health/office-visits")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_DistinguishesInputs(t *testing.T) {
	base := Fingerprint("cust-1", SignalDenialRate, "acme-health/office-visits")

	assert.NotEqual(t, base, Fingerprint("cust-2", SignalDenialRate, "acme-health/office-visits"))
	assert.NotEqual(t, base, Fingerprint("cust-1", SignalPaymentTiming, "acme-health/office-visits"))
	assert.NotEqual(t, base, Fingerprint("cust-1", SignalDenialRate, "acme-health/imaging"))

	// Field boundaries matter: shifting a character across the separator must
	// change the hash.
	assert.NotEqual(t,
		Fingerprint("cust-1a", SignalDenialRate, "x"),
		Fingerprint("cust-1", SignalType("a"+string(SignalDenialRate)), "x"))
}

func TestCooldownBucket(t *testing.T) {
	window := 4 * time.Hour
	early := time.Date(2026, 6, 10, 9, 15, 0, 0, time.UTC)
	late := time.Date(2026, 6, 10, 11, 59, 0, 0, time.UTC)
	next := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, CooldownBucket(early, window), CooldownBucket(late, window))
	assert.NotEqual(t, CooldownBucket(early, window), CooldownBucket(next, window))
	assert.Equal(t, time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC), CooldownBucket(early, window))
}

func TestCooldownBucket_ZeroWindow(t *testing.T) {
	ts := time.Date(2026, 6, 10, 9, 15, 0, 0, time.UTC)
	assert.Equal(t, ts, CooldownBucket(ts, 0))
}
