package prompts

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	// TermCutoff is the minimum similarity ratio for a term substitution.
	TermCutoff = 0.8

	russianSuffix = " Ответь строго на русском языке."
)

var russianMarkers = []string{"ответь на русском", "на русском языке"}

// EnsureRussianRequest appends an explicit answer-in-Russian instruction
// unless the text already asks for it.
func EnsureRussianRequest(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, marker := range russianMarkers {
		if strings.Contains(normalized, marker) {
			return text
		}
	}
	return strings.TrimSpace(text) + russianSuffix
}

// Corrector snaps misheard tokens to the closest known technical term.
type Corrector struct {
	terms []string
	runes [][]string
	known map[string]struct{}
}

func NewCorrector(terms []string) *Corrector {
	c := &Corrector{
		terms: terms,
		runes: make([][]string, len(terms)),
		known: make(map[string]struct{}, len(terms)),
	}
	for i, t := range terms {
		c.runes[i] = splitRunes(t)
		c.known[t] = struct{}{}
	}
	return c
}

func (c *Corrector) Terms() []string {
	return c.terms
}

// Correct lowercases and whitespace-tokenises text, replacing each token that
// is not a known term with its best match scoring at least TermCutoff.
// With no terms configured the text is returned unchanged.
func (c *Corrector) Correct(text string) string {
	if len(c.terms) == 0 {
		return text
	}

	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		if _, ok := c.known[w]; ok {
			continue
		}
		if m, ok := c.closest(w); ok {
			words[i] = m
		}
	}
	return strings.Join(words, " ")
}

// closest returns the single best term by sequence ratio. Ties go to the
// lexicographically greater term.
func (c *Corrector) closest(word string) (string, bool) {
	wordRunes := splitRunes(word)
	best, bestScore := "", -1.0
	for i, candidate := range c.runes {
		m := difflib.NewMatcher(candidate, wordRunes)
		if m.RealQuickRatio() < TermCutoff || m.QuickRatio() < TermCutoff {
			continue
		}
		score := m.Ratio()
		if score < TermCutoff {
			continue
		}
		if score > bestScore || (score == bestScore && c.terms[i] > best) {
			best, bestScore = c.terms[i], score
		}
	}
	return best, bestScore >= 0
}

// CorrectTechTerms is a one-shot helper around Corrector.
func CorrectTechTerms(text string, terms []string) string {
	return NewCorrector(terms).Correct(text)
}

// Normalize applies term correction then the Russian request suffix, the
// order used for both voice and typed requests.
func Normalize(c *Corrector, text string) string {
	return EnsureRussianRequest(c.Correct(text))
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
