// Package fuzzy scores natural-language queries against entity fields.
//
// The score is deterministic and in [0,1]: exact match 1.0, normalized
// substring containment 0.9 scaled by length ratio, otherwise token
// overlap (Jaccard over normalized tokens). The disambiguation gap rule
// downstream resolves ties between close candidates.
package fuzzy

import (
	"strings"
	"unicode"
)

// DefaultMinScore is the default floor below which a candidate is not
// considered a match.
const DefaultMinScore = 0.3

// Matcher scores queries against searchable text fields.
type Matcher struct {
	minScore float64
}

// New creates a Matcher with the given minimum score. Non-positive values
// fall back to DefaultMinScore.
func New(minScore float64) *Matcher {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Matcher{minScore: minScore}
}

// MinScore returns the configured floor.
func (m *Matcher) MinScore() float64 {
	return m.minScore
}

// Score returns the similarity of query against text in [0,1].
func (m *Matcher) Score(query, text string) float64 {
	q := normalize(query)
	t := normalize(text)
	if q == "" || t == "" {
		return 0
	}
	if q == t {
		return 1
	}

	// Substring containment, scaled by how much of the longer string the
	// shorter one covers so that "meeting" inside a long description does
	// not outrank a near-exact title.
	if strings.Contains(t, q) || strings.Contains(q, t) {
		shorter, longer := len(q), len(t)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		ratio := float64(shorter) / float64(longer)
		return 0.5 + 0.4*ratio
	}

	return tokenOverlap(q, t)
}

// ScoreFields returns the best score of query against any of the fields.
func (m *Matcher) ScoreFields(query string, fields ...string) float64 {
	best := 0.0
	for _, f := range fields {
		if s := m.Score(query, f); s > best {
			best = s
		}
	}
	return best
}

// Matches reports whether the best field score clears the floor.
func (m *Matcher) Matches(query string, fields ...string) bool {
	return m.ScoreFields(query, fields...) >= m.minScore
}

func tokenOverlap(a, b string) float64 {
	at := tokenSet(a)
	bt := tokenSet(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}
	shared := 0
	for tok := range at {
		if _, ok := bt[tok]; ok {
			shared++
		}
	}
	union := len(at) + len(bt) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		if len([]rune(tok)) < 2 {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// normalize lowercases and strips punctuation, keeping letters, digits
// and spaces. Works for both Hebrew and Latin scripts.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
