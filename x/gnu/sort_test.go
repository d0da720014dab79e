package gnu

import (
	"slices"
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.0", "1.0", 0},

		// Numeric comparison (not lexicographic)
		{"1.10", "1.9", 1},
		{"1.2", "1.10", -1},
		{"10", "9", 1},
		{"9.3.0", "10.1.0", -1},

		// Leading zeros
		{"1.01", "1.1", 0},
		{"01", "1", 0},

		// Empty strings
		{"", "", 0},
		{"1", "", 1},
		{"", "1", -1},

		// Tilde sorts before everything
		{"1.0~rc1", "1.0", -1},
		{"1.0~alpha", "1.0~beta", -1},

		// Letters vs numbers
		{"1a", "1b", -1},
		{"1.0a", "1.0", 1},

		// Nightly-style date stamps
		{"trunk-20260814", "trunk-20260815", -1},
		{"trunk-20260815", "trunk-20260815", 0},
	}

	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		// Compare must be antisymmetric.
		if got := Compare(tt.b, tt.a); got != -tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestSort(t *testing.T) {
	versions := []string{"10.1.0", "9.3.0", "9.10.1", "9.2.0"}
	Sort(versions)
	want := []string{"9.2.0", "9.3.0", "9.10.1", "10.1.0"}
	if !slices.Equal(versions, want) {
		t.Errorf("Sort() = %v, want %v", versions, want)
	}
}

func TestMax(t *testing.T) {
	tests := []struct {
		name     string
		versions []string
		want     string
	}{
		{"empty", nil, ""},
		{"single", []string{"1.0"}, "1.0"},
		{"numeric", []string{"1.9", "1.10", "1.2"}, "1.10"},
		{"dates", []string{"20260101", "20251231", "20260815"}, "20260815"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Max(tt.versions); got != tt.want {
				t.Errorf("Max(%v) = %q, want %q", tt.versions, got, tt.want)
			}
		})
	}
}
