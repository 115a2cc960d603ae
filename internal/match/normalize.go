package match

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Threshold conventions used throughout duplicate detection: titles whose
// normalized similarity reaches SimilarThreshold are near-duplicates, 1.0
// after normalization is an exact duplicate.
const (
	SimilarThreshold = 0.90
	ExactThreshold   = 1.0
)

var (
	// Year markers such as "2026년", "[2026년도]", "(2025년)".
	yearMarkerRe = regexp.MustCompile(`[\[({（【]?\s*(?:19|20)\d{2}\s*년도?\s*[\])}）】]?`)

	// Round markers such as "제3차", "(제 2차)", "[1차]".
	roundMarkerRe = regexp.MustCompile(`[\[({（【]?\s*제?\s*\d+\s*차\s*[\])}）】]?`)

	decorativeSymbols = "[](){}（）【】〈〉《》「」『』<>★☆◆◇■□●○▶◀※·"
)

// NormalizeTitle canonicalizes an announcement title for comparison: year and
// round markers are removed, decorative symbols are stripped, and whitespace
// runs collapse to single spaces. Applying it twice yields the same result as
// applying it once.
func NormalizeTitle(title string) string {
	out := yearMarkerRe.ReplaceAllString(title, " ")
	out = roundMarkerRe.ReplaceAllString(out, " ")
	out = strings.Map(func(r rune) rune {
		if strings.ContainsRune(decorativeSymbols, r) {
			return ' '
		}
		return r
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

// Similarity scores two strings in [0, 1] from their Levenshtein distance
// over runes: 1 - distance / max(len). Identical strings score 1.0; when
// exactly one side is empty the score is 0. Symmetric by construction.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	lenA := len([]rune(a))
	lenB := len([]rune(b))
	if lenA == 0 || lenB == 0 {
		return 0
	}

	distance := levenshtein.ComputeDistance(a, b)
	maxLen := lenA
	if lenB > maxLen {
		maxLen = lenB
	}
	return 1.0 - float64(distance)/float64(maxLen)
}
