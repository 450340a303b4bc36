package supervisor

import "testing"

func TestBackoff_DelayGrowsAndCaps(t *testing.T) {
	b := DefaultBackoff()
	b.JitterFraction = 0 // isolate growth from jitter for this assertion

	cases := []struct {
		attempt int
		want    float64 // seconds
	}{
		{0, 1},
		{1, 2},
		{2, 4},
		{3, 8},
		{10, 60}, // capped
	}
	for _, c := range cases {
		got := b.Delay(c.attempt).Seconds()
		if got != c.want {
			t.Errorf("Delay(%d) = %vs, want %vs", c.attempt, got, c.want)
		}
	}
}

func TestBackoff_JitterStaysWithinBounds(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 0; attempt < 5; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt).Seconds()
			base := 1.0
			for a := 0; a < attempt; a++ {
				base *= 2
			}
			if base > 60 {
				base = 60
			}
			lo, hi := base*0.8, base*1.2
			if d < lo-0.001 || d > hi+0.001 {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}
