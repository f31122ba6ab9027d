package schema

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// ClosestMatch returns the candidate nearest to name by edit distance when it
// is close enough to be a likely misspelling.
func ClosestMatch(name string, candidates []string) (string, bool) {
	best, bestDist := "", -1
	lname := strings.ToLower(name)
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(lname, strings.ToLower(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 {
		return "", false
	}
	limit := min(max(len(name)/3, 1), 3)
	if best == name || bestDist > limit {
		return "", false
	}
	return best, true
}
