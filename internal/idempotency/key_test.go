package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotKey(t *testing.T) {
	asOf := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)

	t.Run("is deterministic", func(t *testing.T) {
		a := SnapshotKey("ibkr", "U1234567", asOf)
		b := SnapshotKey("ibkr", "U1234567", asOf)

		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("ignores broker name case", func(t *testing.T) {
		assert.Equal(t, SnapshotKey("ibkr", "U1234567", asOf), SnapshotKey("IBKR", "U1234567", asOf))
	})

	t.Run("normalizes time zones", func(t *testing.T) {
		amsterdam := time.FixedZone("CET", 3600)
		assert.Equal(t,
			SnapshotKey("schwab", "1234", asOf),
			SnapshotKey("schwab", "1234", asOf.In(amsterdam)),
		)
	})

	t.Run("differs per input", func(t *testing.T) {
		base := SnapshotKey("ibkr", "U1", asOf)

		assert.NotEqual(t, base, SnapshotKey("schwab", "U1", asOf))
		assert.NotEqual(t, base, SnapshotKey("ibkr", "U2", asOf))
		assert.NotEqual(t, base, SnapshotKey("ibkr", "U1", asOf.Add(time.Nanosecond)))
	})

	t.Run("field boundaries are unambiguous", func(t *testing.T) {
		assert.NotEqual(t, SnapshotKey("ab", "c", asOf), SnapshotKey("a", "bc", asOf))
	})
}
