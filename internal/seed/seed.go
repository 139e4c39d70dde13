// Package seed derives per-match RNG seeds from a tournament master seed.
//
// Derivation is an HMAC-SHA256 keyed hash so that the seed for any one
// (event, round, match) triple is independent of every other triple:
// adding or removing events or matches never shifts another match's seed.
package seed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
)

// Manager produces deterministic, isolated RNG instances for each match.
type Manager struct {
	masterSeed int64
}

// NewManager returns a Manager keyed by the tournament master seed.
func NewManager(masterSeed int64) *Manager {
	return &Manager{masterSeed: masterSeed}
}

// MatchSeed derives the 64-bit seed for one (event, round, match) triple.
// Same inputs always produce the same seed.
func (m *Manager) MatchSeed(event string, round, match int) int64 {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(m.masterSeed))

	mac := hmac.New(sha256.New, key[:])
	fmt.Fprintf(mac, "%s:%d:%d", event, round, match)
	digest := mac.Sum(nil)

	return int64(binary.BigEndian.Uint64(digest[:8]))
}

// RNG returns an isolated *rand.Rand seeded with matchSeed.
// Process-global RNG state is never touched.
func (m *Manager) RNG(matchSeed int64) *rand.Rand {
	return rand.New(rand.NewSource(matchSeed))
}
