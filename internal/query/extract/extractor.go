// Package extract turns free-text queries into typed, weighted entities
// using the gazetteer.
package extract

import (
	"sort"
	"unicode/utf8"

	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/query/gazetteer"
)

// Result is the outcome of one extraction. Words is the token count the
// lane router uses for the vagueness check.
type Result struct {
	Normalized string          `json:"normalized"`
	Words      []string        `json:"-"`
	Entities   []models.Entity `json:"entities"`
	Truncated  bool            `json:"truncated,omitempty"`
}

// WordCount returns the number of tokens in the normalised query.
func (r Result) WordCount() int {
	return len(r.Words)
}

type Extractor struct {
	gaz       *gazetteer.Gazetteer
	maxLength int
}

// New builds an extractor. Input longer than maxLength bytes is truncated
// on a rune boundary before matching; zero disables the limit.
func New(gaz *gazetteer.Gazetteer, maxLength int) *Extractor {
	return &Extractor{gaz: gaz, maxLength: maxLength}
}

type candidate struct {
	entity   models.Entity
	firstTok int
	lastTok  int
}

func (c candidate) width() int {
	return c.lastTok - c.firstTok + 1
}

// Extract never fails: text with no recognisable entities yields an empty
// list.
func (x *Extractor) Extract(text string) Result {
	res := Result{}
	if x.maxLength > 0 && len(text) > x.maxLength {
		text = truncate(text, x.maxLength)
		res.Truncated = true
	}

	normalized := gazetteer.Normalize(text)
	tokens := gazetteer.Tokenize(normalized)
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Text
	}
	res.Normalized = normalized
	res.Words = words
	if len(tokens) == 0 {
		return res
	}

	candidates := x.phraseCandidates(normalized, tokens, words)
	candidates = append(candidates, x.patternCandidates(normalized, tokens)...)
	selected, covered := selectSpans(candidates, len(tokens))
	selected = append(selected, x.resolveAmbiguous(normalized, tokens, words, selected, covered)...)

	res.Entities = dedupe(selected)
	return res
}

func (x *Extractor) phraseCandidates(normalized string, tokens []gazetteer.Token, words []string) []candidate {
	var out []candidate
	for i := range tokens {
		for _, p := range x.gaz.PhrasesAt(words, i) {
			last := i + len(p.Tokens) - 1
			start, end := tokens[i].Start, tokens[last].End
			out = append(out, candidate{
				entity: models.Entity{
					Type:            p.Type,
					CanonicalLabel:  p.Canonical,
					RawSpan:         normalized[start:end],
					Weight:          p.Weight,
					CanonicalWeight: p.CanonicalWeight,
					Start:           start,
					End:             end,
				},
				firstTok: i,
				lastTok:  last,
			})
		}
	}
	return out
}

// patternCandidates keeps only matches that begin and end exactly on token
// boundaries, so an alias never fires inside a longer word.
func (x *Extractor) patternCandidates(normalized string, tokens []gazetteer.Token) []candidate {
	startAt := make(map[int]int, len(tokens))
	endAt := make(map[int]int, len(tokens))
	for i, t := range tokens {
		startAt[t.Start] = i
		endAt[t.End] = i
	}

	var out []candidate
	for _, p := range x.gaz.Patterns() {
		for _, m := range p.Re.FindAllStringSubmatchIndex(normalized, -1) {
			first, okStart := startAt[m[0]]
			last, okEnd := endAt[m[1]]
			if !okStart || !okEnd {
				continue
			}
			label := p.Canonical(normalized, m)
			if label == "" {
				continue
			}
			out = append(out, candidate{
				entity: models.Entity{
					Type:            p.Type,
					CanonicalLabel:  label,
					RawSpan:         normalized[m[0]:m[1]],
					Weight:          p.Weight,
					CanonicalWeight: p.CanonicalWeight,
					Start:           m[0],
					End:             m[1],
				},
				firstTok: first,
				lastTok:  last,
			})
		}
	}
	return out
}

// selectSpans picks non-overlapping candidates, widest first, then by
// score. The returned slice marks which tokens ended up covered.
func selectSpans(candidates []candidate, n int) ([]candidate, []bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.width() != b.width() {
			return a.width() > b.width()
		}
		if a.entity.Score() != b.entity.Score() {
			return a.entity.Score() > b.entity.Score()
		}
		if a.entity.Type != b.entity.Type {
			return a.entity.Type < b.entity.Type
		}
		if a.entity.CanonicalLabel != b.entity.CanonicalLabel {
			return a.entity.CanonicalLabel < b.entity.CanonicalLabel
		}
		return a.firstTok < b.firstTok
	})

	covered := make([]bool, n)
	var selected []candidate
next:
	for _, c := range candidates {
		for k := c.firstTok; k <= c.lastTok; k++ {
			if covered[k] {
				continue next
			}
		}
		for k := c.firstTok; k <= c.lastTok; k++ {
			covered[k] = true
		}
		selected = append(selected, c)
	}
	return selected, covered
}

func (x *Extractor) resolveAmbiguous(normalized string, tokens []gazetteer.Token, words []string, selected []candidate, covered []bool) []candidate {
	var out []candidate
	for i, tok := range tokens {
		if covered[i] {
			continue
		}
		rule, ok := x.gaz.Ambiguity(tok.Text)
		if !ok {
			continue
		}
		outcome := rule.Default
		for _, r := range rule.Rules {
			if holds(r.When, i, rule.Window, words, selected) {
				outcome = r.Then
				break
			}
		}
		out = append(out, candidate{
			entity:   outcome.Entity(normalized[tok.Start:tok.End], tok.Start, tok.End),
			firstTok: i,
			lastTok:  i,
		})
	}
	return out
}

// holds reports whether cond is satisfied for the ambiguous token at i.
// Word lists look at the immediate neighbour; adjacent types look at
// already selected entities within window tokens.
func holds(cond gazetteer.Condition, i, window int, words []string, selected []candidate) bool {
	if i+1 < len(words) && contains(cond.NextWordIn, words[i+1]) {
		return true
	}
	if i > 0 && contains(cond.PrevWordIn, words[i-1]) {
		return true
	}
	if len(cond.AdjacentTypeIn) == 0 {
		return false
	}
	for _, c := range selected {
		if c.lastTok < i-window || c.firstTok > i+window {
			continue
		}
		for _, t := range cond.AdjacentTypeIn {
			if c.entity.Type == t {
				return true
			}
		}
	}
	return false
}

func contains(list []string, w string) bool {
	for _, s := range list {
		if s == w {
			return true
		}
	}
	return false
}

// dedupe keeps the best-scoring occurrence of each (type, label) and
// orders the result by score, type and label so the output does not depend
// on where in the text an entity appeared.
func dedupe(candidates []candidate) []models.Entity {
	best := make(map[string]models.Entity, len(candidates))
	for _, c := range candidates {
		key := c.entity.Key()
		if prev, ok := best[key]; !ok || c.entity.Score() > prev.Score() {
			best[key] = c.entity
		}
	}
	entities := make([]models.Entity, 0, len(best))
	for _, e := range best {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.Score() != b.Score() {
			return a.Score() > b.Score()
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.CanonicalLabel < b.CanonicalLabel
	})
	return entities
}

func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
