package game

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// NewSeededRNG derives a deterministic random source from a room seed.
// Two rooms created with the same seed produce identical volatility draws,
// which makes any finished game's price path replayable.
func NewSeededRNG(seed string) *rand.Rand {
	hash := sha256.Sum256([]byte(seed))
	seedInt := int64(binary.BigEndian.Uint64(hash[:8]))
	return rand.New(rand.NewSource(seedInt))
}
