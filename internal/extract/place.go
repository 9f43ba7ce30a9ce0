// ABOUTME: Keyword-driven place name extraction using an Aho-Corasick automaton
// ABOUTME: Falls back to the whole lower-cased input when no locality keyword matches

package extract

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// PlaceExtractor turns free text into a candidate place name.
type PlaceExtractor interface {
	ExtractPlace(text string) (string, bool)
}

// DefaultKeywords are the locality words recognized out of the box.
var DefaultKeywords = []string{
	"city", "village", "settlement", "hamlet", "town",
	"місто", "село", "селище", "смт",
	"город", "поселок", "посёлок", "деревня", "хутор",
}

// KeywordPlaces finds "<keyword> <Name>" in text.
type KeywordPlaces struct {
	matcher *goahocorasick.Machine
}

// NewKeywordPlaces builds the matcher for the given keywords. Keywords are
// matched case-insensitively; blanks and duplicates are ignored.
func NewKeywordPlaces(keywords []string) (*KeywordPlaces, error) {
	words := lo.Uniq(lo.FilterMap(keywords, func(k string, _ int) (string, bool) {
		k = strings.ToLower(strings.TrimSpace(k))
		return k, k != ""
	}))
	if len(words) == 0 {
		return nil, errors.New("no place keywords configured")
	}
	slices.Sort(words)

	m := new(goahocorasick.Machine)
	if err := m.Build(lo.Map(words, func(w string, _ int) []rune { return []rune(w) })); err != nil {
		return nil, fmt.Errorf("building keyword matcher: %w", err)
	}
	return &KeywordPlaces{matcher: m}, nil
}

// ExtractPlace returns the token after the first keyword that has one.
// Blank input yields false; any other input yields a candidate.
func (p *KeywordPlaces) ExtractPlace(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}

	orig := []rune(trimmed)
	lower := make([]rune, len(orig))
	for i, r := range orig {
		lower[i] = unicode.ToLower(r)
	}

	terms := p.matcher.MultiPatternSearch(lower, false)
	slices.SortFunc(terms, func(a, b *goahocorasick.Term) int { return a.Pos - b.Pos })

	for _, term := range terms {
		start, end := term.Pos, term.Pos+len(term.Word)
		if start > 0 && isWordRune(orig[start-1]) {
			continue
		}
		if end >= len(orig) || !unicode.IsSpace(orig[end]) {
			continue
		}
		if name := tokenAfter(orig, end); name != "" {
			return name, true
		}
	}
	return strings.ToLower(trimmed), true
}

func tokenAfter(runes []rune, from int) string {
	i := from
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	j := i
	for j < len(runes) && !unicode.IsSpace(runes[j]) {
		j++
	}
	return strings.TrimFunc(string(runes[i:j]), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
