package normalization

import (
	"math"
	"testing"
)

func TestFoldLabel(t *testing.T) {
	cases := map[string]string{
		"  Machine   Learning ": "machine learning",
		"PYTHON":                "python",
		"Go\t\tLang":            "go lang",
		"":                      "",
		"   ":                   "",
	}
	for input, want := range cases {
		if got := FoldLabel(input); got != want {
			t.Fatalf("FoldLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFoldLabelPtr(t *testing.T) {
	if got := FoldLabelPtr(nil); got != nil {
		t.Fatalf("FoldLabelPtr(nil) = %v, want nil", got)
	}
	input := "  SQL "
	got := FoldLabelPtr(&input)
	if got == nil || *got != "sql" {
		t.Fatalf("FoldLabelPtr(%q) = %v, want sql", input, got)
	}
}

func TestSimilarity(t *testing.T) {
	almostEqual := func(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

	if got := Similarity("kubernetes", "kubernetes"); got != 1.0 {
		t.Fatalf("identical strings: got %f, want 1", got)
	}
	if got := Similarity("", ""); got != 1.0 {
		t.Fatalf("two empty strings: got %f, want 1", got)
	}
	if got := Similarity("abc", ""); got != 0.0 {
		t.Fatalf("string vs empty: got %f, want 0", got)
	}
	// one deletion against six runes
	if got := Similarity("python", "pythn"); !almostEqual(got, 1.0-1.0/6.0) {
		t.Fatalf("python/pythn: got %f, want %f", got, 1.0-1.0/6.0)
	}
	// symmetric
	if Similarity("react", "redux") != Similarity("redux", "react") {
		t.Fatalf("similarity is not symmetric")
	}
	// multi-byte runes count as single edits
	if got := Similarity("café", "cafe"); !almostEqual(got, 0.75) {
		t.Fatalf("café/cafe: got %f, want 0.75", got)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"", "abc", 3},
		{"abc", "abc", 0},
	}
	for _, tc := range cases {
		if got := levenshtein([]rune(tc.a), []rune(tc.b)); got != tc.want {
			t.Fatalf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
