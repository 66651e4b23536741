package evaluate

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks decomposes to NFD, drops combining marks, and recomposes, so
// "Café" and "cafe" normalize identically.
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips diacritics and punctuation, and collapses
// whitespace. Pure and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	folded, _, err := transform.String(foldMarks, text)
	if err != nil {
		// Fall back to the raw input; lowercasing and stripping still apply.
		folded = text
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			// Punctuation separates tokens rather than gluing them together.
			pendingSpace = true
		}
	}
	return b.String()
}

// MatchPercent scores the similarity of a user answer against the official
// answer on a 0..100 scale. Both sides are normalized first; the score is the
// Levenshtein ratio of the normalized strings, so identical answers score 100
// and an empty side scores 0. Small inflection changes ("closure" vs
// "closures") cost single edits instead of whole tokens.
func MatchPercent(userAnswer, officialAnswer string) float64 {
	user := Normalize(userAnswer)
	official := Normalize(officialAnswer)
	if user == "" || official == "" {
		return 0
	}
	if user == official {
		return 100
	}

	dist := levenshtein(user, official)
	longest := len([]rune(user))
	if l := len([]rune(official)); l > longest {
		longest = l
	}
	ratio := 1 - float64(dist)/float64(longest)
	if ratio < 0 {
		ratio = 0
	}
	return ratio * 100
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming form.
func levenshtein(a, b string) int {
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
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
