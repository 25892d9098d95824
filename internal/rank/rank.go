// Package rank orders candidate tags by edit distance to a reference string.
package rank

import (
	"math"
	"sort"

	"tagify/internal/metadata"
)

// Levenshtein returns the edit distance between a and b over code points.
// The comparison is case-sensitive.
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Rank sorts candidates in place by distance between ref and
// "artist - title", closest first, and returns the slice.
func Rank(cands []metadata.Candidate, ref string) []metadata.Candidate {
	return By(cands, ref, metadata.Candidate.SortKey)
}

// RankAlbums is Rank keyed on "artist - album", used for artwork-only queries.
func RankAlbums(cands []metadata.Candidate, ref string) []metadata.Candidate {
	return By(cands, ref, func(c metadata.Candidate) string {
		return c.Artist + " - " + c.Album
	})
}

// By sorts candidates by the distance between ref and key(c).
func By(cands []metadata.Candidate, ref string, key func(metadata.Candidate) string) []metadata.Candidate {
	dist := make([]int, len(cands))
	idx := make([]int, len(cands))
	for i, c := range cands {
		idx[i] = i
		dist[i] = Levenshtein(ref, key(c))
	}
	sort.SliceStable(idx, func(i, j int) bool { return dist[idx[i]] < dist[idx[j]] })
	return reorder(cands, idx)
}

// SortMerged orders a heterogeneous merged list: provider kind first, then
// distance to ref, then release year ascending with missing years last.
func SortMerged(cands []metadata.Candidate, ref string) []metadata.Candidate {
	type key struct {
		kind metadata.ProviderKind
		dist int
		year int
	}
	keys := make([]key, len(cands))
	idx := make([]int, len(cands))
	for i, c := range cands {
		idx[i] = i
		year := c.Year()
		if year == 0 {
			year = math.MaxInt
		}
		keys[i] = key{kind: c.Kind, dist: Levenshtein(ref, c.SortKey()), year: year}
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := keys[idx[i]], keys[idx[j]]
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		return a.year < b.year
	})
	return reorder(cands, idx)
}

func reorder(cands []metadata.Candidate, idx []int) []metadata.Candidate {
	sorted := make([]metadata.Candidate, len(cands))
	for i, j := range idx {
		sorted[i] = cands[j]
	}
	copy(cands, sorted)
	return cands
}
