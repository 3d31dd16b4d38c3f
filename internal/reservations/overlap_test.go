package reservations

import "testing"

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "src/main.go", "src/main.go", true},
		{"disjoint literal", "src/main.go", "src/other.go", false},
		{"different depth", "src/pkg/a.go", "src/pkg", false},
		{"double star absorbs", "src/**", "src/pkg/deep/a.go", true},
		{"double star both sides", "**", "anything/at/all", true},
		{"single star segment", "src/*/main.go", "src/pkg/main.go", true},
		{"single star wrong tail", "src/*/main.go", "src/pkg/other.go", false},
		{"embedded wildcard matches", "*.go", "main.go", true},
		{"embedded wildcard mismatched suffix", "*.go", "main.py", false},
		{"embedded wildcard both sides overlap", "test_*.go", "test_*_extra.go", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := overlaps(c.a, c.b); got != c.want {
				t.Errorf("overlaps(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
			}
			if got := overlaps(c.b, c.a); got != c.want {
				t.Errorf("overlaps(%q, %q) = %v, want %v (symmetry)", c.b, c.a, got, c.want)
			}
		})
	}
}
