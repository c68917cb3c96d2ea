package crypto

import "testing"

func TestGenerateRoomSeed(t *testing.T) {
	seed, hash := GenerateRoomSeed()

	if len(seed) != 64 {
		t.Errorf("Expected 64-char hex seed, got %d chars", len(seed))
	}
	if len(hash) != 64 {
		t.Errorf("Expected 64-char hex hash, got %d chars", len(hash))
	}
	if !VerifySeed(seed, hash) {
		t.Error("Generated seed does not verify against its own hash")
	}

	seed2, _ := GenerateRoomSeed()
	if seed == seed2 {
		t.Error("Two generated seeds are identical")
	}
}

func TestVerifySeedRejectsTampering(t *testing.T) {
	seed, hash := GenerateRoomSeed()

	if VerifySeed(seed+"x", hash) {
		t.Error("Tampered seed verified")
	}
	if VerifySeed(seed, hash[:63]+"0") && hash[63] != '0' {
		t.Error("Tampered hash verified")
	}
	if VerifySeed("", hash) {
		t.Error("Empty seed verified")
	}
}
