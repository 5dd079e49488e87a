package random

import "testing"

func TestNewSeedVaries(t *testing.T) {
	seen := map[int64]bool{}
	for i := 0; i < 8; i++ {
		s, err := NewSeed()
		if err != nil {
			t.Fatal(err)
		}
		seen[s] = true
	}
	if len(seen) < 2 {
		t.Fatalf("seeds did not vary: %v", seen)
	}
}
