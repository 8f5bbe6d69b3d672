// Package fuzzy provides Unicode-aware text comparison for track names.
package fuzzy

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

type Normalizer struct {
	fold cases.Caser
}

func NewNormalizer() *Normalizer {
	return &Normalizer{fold: cases.Fold()}
}

// Fold returns a caseless, NFC-composed form of text for comparison.
func (n *Normalizer) Fold(text string) string {
	return n.fold.String(norm.NFC.String(text))
}

// ContainsFold reports whether substr appears in s ignoring case.
// An empty substr never matches.
func (n *Normalizer) ContainsFold(s, substr string) bool {
	if s == "" || substr == "" {
		return false
	}
	return strings.Contains(n.Fold(s), n.Fold(substr))
}
