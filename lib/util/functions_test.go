package util

import "testing"

func TestHashString(t *testing.T) {
	tests := []struct {
		name  string
		a, b  string
		seedA uint64
		seedB uint64
		equal bool
	}{
		{"same input", "node-1", "node-1", 0, 0, true},
		{"different names", "node-1", "node-2", 0, 0, false},
		{"different seeds", "node-1", "node-1", 0, 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HashString(tc.a, tc.seedA) == HashString(tc.b, tc.seedB); got != tc.equal {
				t.Errorf("expected equal=%v", tc.equal)
			}
		})
	}
}
