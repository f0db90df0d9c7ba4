package normalization

import (
	"strings"
)

// FoldLabel canonicalizes a free-text skill label for matching:
// lowercase, trimmed, with interior whitespace runs collapsed to one space.
func FoldLabel(input string) string {
	folded := strings.ToLower(strings.TrimSpace(input))
	return strings.Join(strings.Fields(folded), " ")
}

func FoldLabelPtr(input *string) *string {
	if input == nil {
		return nil
	}
	folded := FoldLabel(*input)
	return &folded
}

// Similarity returns a normalized edit-distance similarity in [0,1]:
// 1 - levenshtein(a,b)/max(len(a),len(b)), computed over runes.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
