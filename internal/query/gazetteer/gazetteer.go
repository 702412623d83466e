// Package gazetteer holds the curated vocabulary the extractor matches
// queries against: multi-word phrase aliases, identifier patterns and the
// context rules for tokens that belong to more than one entity type.
package gazetteer

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"maritime-query-engine/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed gazetteer.yaml
var defaultGazetteerYAML []byte

// ==========================
// File format
// ==========================

type fileFormat struct {
	Version   string          `yaml:"version"`
	Phrases   []PhraseGroup   `yaml:"phrases"`
	Patterns  []PatternSpec   `yaml:"patterns"`
	Ambiguous []AmbiguityRule `yaml:"ambiguous"`
}

// PhraseGroup maps a set of aliases onto one canonical label.
type PhraseGroup struct {
	Type            models.EntityType `yaml:"type"`
	Canonical       string            `yaml:"canonical"`
	CanonicalWeight float64           `yaml:"canonical_weight"`
	Aliases         []Alias           `yaml:"aliases"`
}

type Alias struct {
	Text   string  `yaml:"text"`
	Weight float64 `yaml:"weight"`
}

// PatternSpec is an identifier pattern such as a storage box or fault code.
type PatternSpec struct {
	Type            models.EntityType `yaml:"type"`
	Pattern         string            `yaml:"pattern"`
	Canonical       string            `yaml:"canonical"`
	Weight          float64           `yaml:"weight"`
	CanonicalWeight float64           `yaml:"canonical_weight"`
}

// AmbiguityRule resolves a token that is valid as several entity types.
// Rules are tried in order; Default applies when none holds.
type AmbiguityRule struct {
	Token   string        `yaml:"token"`
	Window  int           `yaml:"window"`
	Rules   []ContextRule `yaml:"rules"`
	Default Outcome       `yaml:"default"`
}

type ContextRule struct {
	When Condition `yaml:"when"`
	Then Outcome   `yaml:"then"`
}

// Condition is satisfied when any of its non-empty lists matches.
type Condition struct {
	NextWordIn     []string            `yaml:"next_word_in"`
	PrevWordIn     []string            `yaml:"prev_word_in"`
	AdjacentTypeIn []models.EntityType `yaml:"adjacent_type_in"`
}

type Outcome struct {
	Type            models.EntityType `yaml:"type"`
	Canonical       string            `yaml:"canonical"`
	Weight          float64           `yaml:"weight"`
	CanonicalWeight float64           `yaml:"canonical_weight"`
}

// Entity builds the entity this outcome describes for a span.
func (o Outcome) Entity(raw string, start, end int) models.Entity {
	return models.Entity{
		Type:            o.Type,
		CanonicalLabel:  o.Canonical,
		RawSpan:         raw,
		Weight:          o.Weight,
		CanonicalWeight: o.CanonicalWeight,
		Start:           start,
		End:             end,
	}
}

// ==========================
// Compiled gazetteer
// ==========================

// Phrase is one alias compiled to its token sequence.
type Phrase struct {
	Tokens          []string
	Type            models.EntityType
	Canonical       string
	Weight          float64
	CanonicalWeight float64
}

// Pattern is a compiled PatternSpec.
type Pattern struct {
	Type            models.EntityType
	Re              *regexp.Regexp
	Template        string
	Weight          float64
	CanonicalWeight float64
}

// Gazetteer is immutable after Load and safe for concurrent use.
type Gazetteer struct {
	Version   string
	phrases   map[string][]Phrase // keyed by first token, longest first
	maxTokens int
	patterns  []Pattern
	ambiguous map[string]AmbiguityRule
}

var (
	defaultOnce sync.Once
	defaultGaz  *Gazetteer
	defaultErr  error
)

// Default returns the embedded gazetteer, compiled once.
func Default() (*Gazetteer, error) {
	defaultOnce.Do(func() {
		defaultGaz, defaultErr = Load(defaultGazetteerYAML)
	})
	return defaultGaz, defaultErr
}

// LoadFile reads a gazetteer from disk; an empty path selects the default.
func LoadFile(path string) (*Gazetteer, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer %s: %w", path, err)
	}
	return Load(data)
}

// Load parses and validates a gazetteer document.
func Load(data []byte) (*Gazetteer, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse gazetteer: %w", err)
	}

	g := &Gazetteer{
		Version:   f.Version,
		phrases:   make(map[string][]Phrase),
		ambiguous: make(map[string]AmbiguityRule),
	}

	seen := make(map[string]string)
	for _, group := range f.Phrases {
		if err := validateLabel(group.Type, group.Canonical, 1, group.CanonicalWeight); err != nil {
			return nil, fmt.Errorf("phrase group %q: %w", group.Canonical, err)
		}
		for _, alias := range group.Aliases {
			words := Words(Normalize(alias.Text))
			if len(words) == 0 {
				return nil, fmt.Errorf("phrase group %q: empty alias", group.Canonical)
			}
			if alias.Weight <= 0 || alias.Weight > 1 {
				return nil, fmt.Errorf("alias %q: weight %v outside (0,1]", alias.Text, alias.Weight)
			}
			key := strings.Join(words, " ")
			if prev, dup := seen[key]; dup && prev != group.Canonical {
				return nil, fmt.Errorf("alias %q maps to both %s and %s", alias.Text, prev, group.Canonical)
			}
			seen[key] = group.Canonical

			g.phrases[words[0]] = append(g.phrases[words[0]], Phrase{
				Tokens:          words,
				Type:            group.Type,
				Canonical:       group.Canonical,
				Weight:          alias.Weight,
				CanonicalWeight: group.CanonicalWeight,
			})
			if len(words) > g.maxTokens {
				g.maxTokens = len(words)
			}
		}
	}
	for first := range g.phrases {
		list := g.phrases[first]
		sort.SliceStable(list, func(i, j int) bool { return len(list[i].Tokens) > len(list[j].Tokens) })
	}

	for _, spec := range f.Patterns {
		p, err := compilePattern(spec)
		if err != nil {
			return nil, err
		}
		g.patterns = append(g.patterns, p)
	}

	for _, rule := range f.Ambiguous {
		token := Normalize(rule.Token)
		if len(Words(token)) != 1 {
			return nil, fmt.Errorf("ambiguous token %q must be a single word", rule.Token)
		}
		if _, clash := seen[token]; clash {
			return nil, fmt.Errorf("ambiguous token %q is also a phrase alias", rule.Token)
		}
		if err := validateOutcome(rule.Default); err != nil {
			return nil, fmt.Errorf("ambiguous token %q default: %w", rule.Token, err)
		}
		for i, r := range rule.Rules {
			if err := validateOutcome(r.Then); err != nil {
				return nil, fmt.Errorf("ambiguous token %q rule %d: %w", rule.Token, i, err)
			}
			for _, t := range r.When.AdjacentTypeIn {
				if !t.Valid() {
					return nil, fmt.Errorf("ambiguous token %q rule %d: unknown type %q", rule.Token, i, t)
				}
			}
		}
		if rule.Window <= 0 {
			rule.Window = 1
		}
		rule.Token = token
		g.ambiguous[token] = rule
	}

	return g, nil
}

var templateRef = regexp.MustCompile(`\{(\d+)\}`)

func compilePattern(spec PatternSpec) (Pattern, error) {
	if err := validateLabel(spec.Type, spec.Canonical, spec.Weight, spec.CanonicalWeight); err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", spec.Pattern, err)
	}
	re, err := regexp.Compile(`(?i)\b(?:` + spec.Pattern + `)\b`)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", spec.Pattern, err)
	}
	for _, m := range templateRef.FindAllStringSubmatch(spec.Canonical, -1) {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > re.NumSubexp() {
			return Pattern{}, fmt.Errorf("pattern %q: template references group %d", spec.Pattern, n)
		}
	}
	return Pattern{
		Type:            spec.Type,
		Re:              re,
		Template:        spec.Canonical,
		Weight:          spec.Weight,
		CanonicalWeight: spec.CanonicalWeight,
	}, nil
}

func validateLabel(t models.EntityType, canonical string, weight, canonicalWeight float64) error {
	if !t.Valid() {
		return fmt.Errorf("unknown entity type %q", t)
	}
	if strings.TrimSpace(canonical) == "" {
		return fmt.Errorf("canonical label is empty")
	}
	if weight <= 0 || weight > 1 {
		return fmt.Errorf("weight %v outside (0,1]", weight)
	}
	if canonicalWeight <= 0 || canonicalWeight > 1 {
		return fmt.Errorf("canonical_weight %v outside (0,1]", canonicalWeight)
	}
	return nil
}

func validateOutcome(o Outcome) error {
	return validateLabel(o.Type, o.Canonical, o.Weight, o.CanonicalWeight)
}

// ==========================
// Lookups
// ==========================

// PhrasesAt returns every phrase whose token sequence starts at words[i],
// longest first.
func (g *Gazetteer) PhrasesAt(words []string, i int) []Phrase {
	var out []Phrase
	for _, p := range g.phrases[words[i]] {
		if i+len(p.Tokens) > len(words) {
			continue
		}
		match := true
		for k, tok := range p.Tokens {
			if words[i+k] != tok {
				match = false
				break
			}
		}
		if match {
			out = append(out, p)
		}
	}
	return out
}

func (g *Gazetteer) Patterns() []Pattern {
	return g.patterns
}

// Ambiguity returns the rule for a normalised token, if it has one.
func (g *Gazetteer) Ambiguity(token string) (AmbiguityRule, bool) {
	r, ok := g.ambiguous[token]
	return r, ok
}

// Canonical expands the pattern template with the submatches of m, which
// must come from p.Re.FindAllStringSubmatchIndex over text.
func (p Pattern) Canonical(text string, m []int) string {
	return templateRef.ReplaceAllStringFunc(p.Template, func(ref string) string {
		n, _ := strconv.Atoi(ref[1 : len(ref)-1])
		if 2*n+1 >= len(m) || m[2*n] < 0 {
			return ""
		}
		group := text[m[2*n]:m[2*n+1]]
		return strings.ToUpper(strings.Join(strings.Fields(group), ""))
	})
}

// Stats summarises the vocabulary size for logging.
func (g *Gazetteer) Stats() map[string]interface{} {
	aliases := 0
	for _, list := range g.phrases {
		aliases += len(list)
	}
	return map[string]interface{}{
		"version":   g.Version,
		"aliases":   aliases,
		"patterns":  len(g.patterns),
		"ambiguous": len(g.ambiguous),
		"longest":   g.maxTokens,
	}
}
