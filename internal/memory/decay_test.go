package memory

import "testing"

func TestHalfLifeDaysInterpolatesAndClamps(t *testing.T) {
	cases := []struct {
		confidence float64
		want       float64
	}{
		{0, 45},
		{1, 135},
		{0.5, 90},
		{-1, 45},
		{2, 135},
	}
	for _, c := range cases {
		if got := halfLifeDays(c.confidence); got != c.want {
			t.Errorf("halfLifeDays(%v) = %v, want %v", c.confidence, got, c.want)
		}
	}
}

func TestDecayFactorAtZeroAgeIsOne(t *testing.T) {
	if got := decayFactor(0.7, 0); got != 1 {
		t.Errorf("decayFactor at age 0: got %v, want 1", got)
	}
	if got := decayFactor(0.7, -5); got != 1 {
		t.Errorf("decayFactor at negative age: got %v, want 1", got)
	}
}

func TestDecayFactorHalvesAtHalfLife(t *testing.T) {
	confidence := 0.5 // half-life 90 days
	got := decayFactor(confidence, 90)
	want := 0.5
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("decayFactor at half-life: got %v, want %v", got, want)
	}
}

func TestDecayFactorMonotonicallyDecreasesWithAge(t *testing.T) {
	prev := 1.0
	for _, age := range []float64{10, 30, 60, 90, 120} {
		got := decayFactor(0.5, age)
		if got >= prev {
			t.Fatalf("decayFactor(%v) = %v not less than previous %v", age, got, prev)
		}
		prev = got
	}
}

func TestDecayFactorHigherConfidenceDecaysSlower(t *testing.T) {
	age := 60.0
	low := decayFactor(0.1, age)
	high := decayFactor(0.9, age)
	if high <= low {
		t.Errorf("expected higher confidence to retain more score: low=%v high=%v", low, high)
	}
}
