// Package idempotency derives the deterministic keys that make snapshot
// writes converge on one row per logical fact.
package idempotency

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

// keyVersion prefixes the canonical encoding so a future change of
// derivation can never collide with keys already stored.
const keyVersion = "snapshot/v1"

// TimeLayout is the canonical UTC rendering of an as-of instant. It is
// fixed width, so byte order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// SnapshotKey returns the hex SHA-256 key for a broker account's snapshot
// at asOf. The run id is deliberately not an input: a retried run that sees
// the same broker-asserted as-of time resolves to the same snapshot row.
//
// Broker names are case-insensitive; account ids are taken verbatim. Two
// instants that denote the same moment in different zones produce the same key.
func SnapshotKey(broker, brokerAccountID string, asOf time.Time) string {
	h := sha256.New()
	for _, field := range []string{
		keyVersion,
		strings.ToLower(strings.TrimSpace(broker)),
		brokerAccountID,
		asOf.UTC().Format(TimeLayout),
	} {
		writeField(h, field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes each field so ("ab","c") and ("a","bc") differ.
func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(s))
}
