// Package security holds the checks every request passes before any stage
// touches storage: input screening, tenant binding, credential
// verification, CORS and rate limiting.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/query/gazetteer"
)

const DefaultMaxQueryLength = 500

// Verdict is the result of screening one query.
type Verdict struct {
	Blocked  bool          `json:"blocked"`
	Reason   models.Reason `json:"reason,omitempty"`
	Category string        `json:"category,omitempty"`
}

type pattern struct {
	category string
	re       *regexp.Regexp
}

// Patterns are checked against the raw text. A lone apostrophe or '&' is
// ordinary query text ("won't", "b&w"); only sequences that only make
// sense as structure are flagged.
var injectionPatterns = []pattern{
	{"sql", regexp.MustCompile(`'\s*;`)},
	{"sql", regexp.MustCompile(`;\s*--`)},
	{"sql", regexp.MustCompile(`--\s*$`)},
	{"sql", regexp.MustCompile(`/\*|\*/`)},
	{"sql", regexp.MustCompile(`(?i)'\s*or\s+'?\w+'?\s*=\s*'?\w+`)},
	{"sql", regexp.MustCompile(`(?i)\b(union\s+(all\s+)?select|drop\s+(table|database|schema)|delete\s+from|insert\s+into|truncate\s+table|alter\s+table|xp_cmdshell|pg_sleep|information_schema)\b`)},
	{"sql", regexp.MustCompile(`(?i)\bupdate\s+\w+\s+set\s+\w+\s*=`)},
	{"shell", regexp.MustCompile("`")},
	{"shell", regexp.MustCompile(`\$\(|\$\{`)},
	{"shell", regexp.MustCompile(`&&|\|\|`)},
	{"shell", regexp.MustCompile(`(?i)[;|]\s*(rm|curl|wget|bash|sh|zsh|nc|cat|chmod|python|perl)\b`)},
	{"shell", regexp.MustCompile(`>\s*/`)},
	{"markup", regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|svg|img|style|link|meta|body)\b`)},
	{"markup", regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)},
	{"markup", regexp.MustCompile(`(?i)\b(javascript|vbscript)\s*:`)},
	{"traversal", regexp.MustCompile(`\.\.[/\\]`)},
	{"traversal", regexp.MustCompile(`(?i)%2e%2e|%252e|%c0%ae|\.\.%2f|\.\.%5c`)},
	{"traversal", regexp.MustCompile(`(?i)/etc/(passwd|shadow)|\\windows\\system32`)},
	{"nul", regexp.MustCompile(`(?i)%00|\\x00|\\u0000`)},
}

var abusiveTerms = map[string]struct{}{
	"fuck":    {},
	"fucking": {},
	"shit":    {},
	"cunt":    {},
	"bitch":   {},
	"asshole": {},
	"retard":  {},
}

// Screener checks query text before extraction.
type Screener struct {
	maxLength int
}

// NewScreener builds a screener. maxLength is in runes; zero selects the
// default.
func NewScreener(maxLength int) *Screener {
	if maxLength <= 0 {
		maxLength = DefaultMaxQueryLength
	}
	return &Screener{maxLength: maxLength}
}

// Screen classifies text as clean, injection-shaped or abusive. It never
// modifies or executes the text.
func (s *Screener) Screen(text string) Verdict {
	v := s.screen(text)
	if v.Blocked {
		metrics.ScreenRejections.WithLabelValues(v.Category).Inc()
	}
	return v
}

func (s *Screener) screen(text string) Verdict {
	if strings.ContainsRune(text, 0) {
		return injection("nul")
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		return injection("length")
	}
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			return injection(p.category)
		}
	}
	for _, w := range gazetteer.Words(gazetteer.Normalize(text)) {
		if _, ok := abusiveTerms[w]; ok {
			return Verdict{Blocked: true, Reason: models.ReasonAbusive, Category: "abusive"}
		}
	}
	return Verdict{}
}

func injection(category string) Verdict {
	return Verdict{Blocked: true, Reason: models.ReasonInjectionShaped, Category: category}
}
