package utils

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// Keep word characters and basic punctuation, drop the rest.
	specialCharsRe = regexp.MustCompile(`[^\w\s.,!?-]`)
)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"is": {}, "are": {}, "was": {}, "were": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {},
}

// NormalizeText lowercases, collapses whitespace, and strips characters
// outside the word/basic-punctuation set.
func NormalizeText(text string) string {
	text = strings.ToLower(text)
	text = specialCharsRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

var locationAbbrevs = [][2]string{
	{"street", "st"},
	{"avenue", "ave"},
	{"road", "rd"},
	{"boulevard", "blvd"},
}

// NormalizeLocation canonicalizes a free-text location string for
// comparison, folding common street-type abbreviations.
func NormalizeLocation(location string) string {
	normalized := strings.ToLower(strings.TrimSpace(location))
	normalized = whitespaceRe.ReplaceAllString(normalized, " ")
	for _, r := range locationAbbrevs {
		normalized = strings.ReplaceAll(normalized, r[0], r[1])
	}
	return normalized
}

func RemoveStopwords(text string) string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := stopwords[strings.ToLower(w)]; ok {
			continue
		}
		filtered = append(filtered, w)
	}
	return strings.Join(filtered, " ")
}

// TokenSimilarity is the Jaccard similarity of the normalized word sets of
// a and b. Either side having no tokens yields 0, not an error.
func TokenSimilarity(a, b string) float64 {
	setA := tokenSet(NormalizeText(a))
	setB := tokenSet(NormalizeText(b))
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// ExtractKeywords returns up to maxKeywords stopword-filtered tokens longer
// than three characters. Order is deterministic (first occurrence) so the
// output is stable for logging; this is a diagnostic aid, not a dedup signal.
func ExtractKeywords(text string, maxKeywords int) []string {
	if maxKeywords <= 0 {
		return nil
	}
	seen := map[string]struct{}{}
	keywords := make([]string, 0, maxKeywords)
	for _, w := range strings.Fields(RemoveStopwords(NormalizeText(text))) {
		if len(w) <= 3 {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

func tokenSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(text) {
		set[w] = struct{}{}
	}
	return set
}
