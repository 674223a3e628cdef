package tokens

import "testing"

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"exact multiple", "abcd", 1},
		{"rounds up", "abcde", 2},
		{"eight chars", "abcdefgh", 2},
		{"nine chars", "abcdefghi", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Estimate(tt.text); got != tt.want {
				t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateMonotone(t *testing.T) {
	prev := 0
	s := ""
	for i := 0; i < 100; i++ {
		s += "x"
		got := Estimate(s)
		if got < prev {
			t.Fatalf("Estimate not monotone at len %d: %d < %d", i+1, got, prev)
		}
		prev = got
	}
}
