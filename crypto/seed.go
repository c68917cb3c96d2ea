package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateRoomSeed returns a random seed and its SHA-256 hash. The seed
// drives a room's volatility RNG; the hash is broadcast at game start so
// players can replay the price path afterwards and check it was not steered.
func GenerateRoomSeed() (seed string, hash string) {
	bytes := make([]byte, 32)
	rand.Read(bytes)

	seed = hex.EncodeToString(bytes)

	h := sha256.Sum256([]byte(seed))
	hash = hex.EncodeToString(h[:])

	return
}

// VerifySeed checks that a revealed seed matches its published hash.
func VerifySeed(seed, hash string) bool {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:]) == hash
}
