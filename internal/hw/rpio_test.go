package hw

import "testing"

func TestReleaseWithoutAcquire(t *testing.T) {
	if err := Release(); err != nil {
		t.Fatalf("Release on idle map: %v", err)
	}
	if users != 0 {
		t.Fatalf("users = %d, want 0", users)
	}
}
