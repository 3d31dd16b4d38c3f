package reservations

import (
	"path"
	"strings"
)

// overlaps decides whether two glob path patterns could ever match the
// same path string (§4.6). Exact equality is the obvious case; a pattern
// that is only a path prefix of another ("src/pkg" vs "src/pkg/a.go") does
// not overlap it unless a "**" covers the extra segments. Beyond that this
// applies the conservative syntactic
// reading from §9: "**" matches any subpath (including across
// separators), a bare "*" segment matches any single path segment. Two
// patterns overlap when a segment-by-segment comparison finds no pair of
// concrete (non-wildcard) segments that must differ.
func overlaps(a, b string) bool {
	if a == b {
		return true
	}
	segsA := strings.Split(a, "/")
	segsB := strings.Split(b, "/")
	return segmentsOverlap(segsA, segsB)
}

func segmentsOverlap(a, b []string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		sa, sb := a[i], b[j]
		if sa == "**" || sb == "**" {
			// "**" absorbs any remaining segments on either side.
			return true
		}
		if !segmentMatches(sa, sb) {
			return false
		}
		i++
		j++
	}
	// No "**" was reached, so the patterns overlap only if both ran out of
	// segments together; a trailing "*" matches exactly one segment.
	return i == len(a) && j == len(b)
}

// segmentMatches reports whether two single path segments (each possibly
// containing "*" wildcards, but not "**") could match the same string.
func segmentMatches(a, b string) bool {
	if a == "*" || b == "*" {
		return true
	}
	if a == b {
		return true
	}
	// Embedded "*" wildcards, e.g. "*.go" vs "main.go".
	if strings.Contains(a, "*") || strings.Contains(b, "*") {
		return globFragmentsOverlap(a, b)
	}
	return false
}

// globFragmentsOverlap handles single-segment patterns with embedded "*".
// A literal segment is matched exactly against the other side with
// path.Match; two wildcard segments are compared only by the literal
// text before their first "*". This is deliberately conservative (may
// over-report overlap) rather than under-report, per §9's open question.
func globFragmentsOverlap(a, b string) bool {
	pa := strings.SplitN(a, "*", 2)
	pb := strings.SplitN(b, "*", 2)
	if len(pa) == 1 || len(pb) == 1 {
		// No wildcard in one of them; that side is a literal, match the
		// other side's pattern against it. A malformed pattern counts as
		// overlapping.
		lit, pat := a, b
		if len(pa) == 1 {
			lit, pat = a, b
		} else {
			lit, pat = b, a
		}
		ok, err := path.Match(pat, lit)
		return err != nil || ok
	}
	// Both contain a wildcard: prefixes and suffixes must be compatible.
	return strings.HasPrefix(a, pa[0]) == strings.HasPrefix(b, pa[0]) || pa[0] == "" || pb[0] == "" ||
		strings.HasPrefix(pa[0], pb[0]) || strings.HasPrefix(pb[0], pa[0])
}
