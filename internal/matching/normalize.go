package matching

import "strings"

// NormalizeName folds a person or place name into its matching key: lower
// case, collapsed whitespace, punctuation stripped, tokens sorted so
// "Maria dos Santos" and "dos santos, maria" normalize identically.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		case r == '-' || r == '\'' || r == '.' || r == ',':
			b.WriteRune(' ')
		default:
			b.WriteRune(r) // keep non-latin letters as-is
		}
	}
	tokens := strings.Fields(b.String())
	sortTokens(tokens)
	return strings.Join(tokens, " ")
}

// NormalizeExternalID strips separators and case from identifiers like
// national id numbers so "ID-123 456" matches "id123456".
func NormalizeExternalID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if r == ' ' || r == '-' || r == '/' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// BirthYear extracts the year from a "2006-01-02" date string; empty when
// the date is missing or malformed.
func BirthYear(birthDate string) string {
	if len(birthDate) < 4 {
		return ""
	}
	return birthDate[:4]
}

func sortTokens(tokens []string) {
	// insertion sort; name token counts are tiny
	for i := 1; i < len(tokens); i++ {
		for j := i; j > 0 && tokens[j] < tokens[j-1]; j-- {
			tokens[j], tokens[j-1] = tokens[j-1], tokens[j]
		}
	}
}
