package gazetteer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token is a word in normalised text. Start and End are byte offsets into
// the normalised string.
type Token struct {
	Text  string
	Start int
	End   int
}

var apostrophes = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "")

// Normalize folds diacritics, lower-cases and drops apostrophes so that
// "Wärtsilä" and "wartsila", or "won't" and "wont", compare equal. Invalid
// UTF-8 is replaced with spaces rather than rejected.
func Normalize(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, " ")
	}
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, text)
	if err != nil {
		folded = text
	}
	return apostrophes.Replace(strings.ToLower(folded))
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&'
}

// Tokenize splits normalised text into words. Anything that is not a
// letter, digit or '&' separates tokens, so "v-belt" is two tokens and
// "b&w" is one.
func Tokenize(normalized string) []Token {
	var tokens []Token
	start := -1
	for i, r := range normalized {
		if isTokenRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, Token{Text: normalized[start:i], Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: normalized[start:], Start: start, End: len(normalized)})
	}
	return tokens
}

// Words is a convenience returning just the token texts.
func Words(normalized string) []string {
	tokens := Tokenize(normalized)
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Text
	}
	return words
}
