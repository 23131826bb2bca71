// Package textsim implements the Ratcliff/Obershelp similarity ratio used to
// compare listing titles against catalog reference strings. No external
// dependencies.
package textsim

// Ratio returns a similarity score in [0,1] for a and b: twice the total
// number of matching characters divided by the combined length, where matches
// are found by recursively locating the longest common contiguous run.
// Two empty strings are considered identical.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchTotal(ra, rb)) / float64(total)
}

func matchTotal(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size + matchTotal(a[:ai], b[:bi]) + matchTotal(a[ai+size:], b[bi+size:])
}

// longestMatch finds the longest common contiguous run of a and b, preferring
// the earliest occurrence in a on ties.
func longestMatch(a, b []rune) (besti, bestj, best int) {
	// runs[j] holds the length of the common run ending at a[i-1], b[j-1]
	// for the previous row i-1.
	runs := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		next := make([]int, len(b)+1)
		for j := 1; j <= len(b); j++ {
			if a[i-1] != b[j-1] {
				continue
			}
			k := runs[j-1] + 1
			next[j] = k
			if k > best {
				besti, bestj, best = i-k, j-k, k
			}
		}
		runs = next
	}
	return besti, bestj, best
}
