// Package search provides binary search over time-ordered tables.
package search

// Search looks for key in the ascending slice s.
//
// cmp(key, elem) must be positive when key sorts after elem, negative when it
// sorts before, and zero on a match. The key does not have to be a member of
// s, so arbitrary timestamps can be used as search keys.
//
// Returns the index of a matching element, or -insertionPoint-1 (that is,
// ^insertionPoint) when there is no match.
func Search[S ~[]E, E, K any](s S, key K, cmp func(K, E) int) int {
	lo, hi := 0, len(s)-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		c := cmp(key, s[mid])
		switch {
		case c > 0:
			lo = mid + 1
		case c < 0:
			hi = mid - 1
		default:
			return mid
		}
	}
	return ^lo
}

// InsertionPoint decodes a Search result into an index: the match itself or
// the position where the key would be inserted to keep s ordered.
func InsertionPoint(code int) int {
	if code < 0 {
		return ^code
	}
	return code
}

// Found reports whether a Search result denotes an exact match.
func Found(code int) bool {
	return code >= 0
}
