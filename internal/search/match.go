package search

import (
	"strings"
	"unicode/utf8"
)

// IsSubsequence reports whether every rune of query appears in name in
// order, ignoring case. The empty query matches every name.
func IsSubsequence(query, name string) bool {
	return isSubsequenceLower(strings.ToLower(query), strings.ToLower(name))
}

func isSubsequenceLower(q, n string) bool {
	for q != "" {
		r, size := utf8.DecodeRuneInString(q)
		i := strings.IndexRune(n, r)
		if i < 0 {
			return false
		}
		q = q[size:]
		n = n[i+utf8.RuneLen(r):]
	}
	return true
}
