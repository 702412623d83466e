// Package intent decides whether a query asks for information or for an
// action, using fixed phrase and verb rules.
package intent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/query/gazetteer"

	"gopkg.in/yaml.v3"
)

//go:embed intent_rules.yaml
var defaultRulesYAML []byte

type rulesFile struct {
	Version       string         `yaml:"version"`
	Fillers       []string       `yaml:"fillers"`
	ActionPhrases []phraseRule   `yaml:"action_phrases"`
	Imperative    imperativeSpec `yaml:"imperative"`
	StartOnly     startOnlySpec  `yaml:"start_only"`
}

type phraseRule struct {
	Action   string   `yaml:"action"`
	Strength float64  `yaml:"strength"`
	Anchored bool     `yaml:"anchored"`
	Phrases  []string `yaml:"phrases"`
}

type imperativeSpec struct {
	Strength float64          `yaml:"strength"`
	Rules    []imperativeRule `yaml:"rules"`
}

type imperativeRule struct {
	Verbs   []string      `yaml:"verbs"`
	Objects []objectEntry `yaml:"objects"`
}

type objectEntry struct {
	Object string `yaml:"object"`
	Action string `yaml:"action"`
}

type startOnlySpec struct {
	Strength float64     `yaml:"strength"`
	Verbs    []verbEntry `yaml:"verbs"`
}

type verbEntry struct {
	Verb   string `yaml:"verb"`
	Action string `yaml:"action"`
}

type compiledPhrase struct {
	tokens   []string
	action   string
	strength float64
	// anchored phrases count only at the first content word.
	anchored bool
}

type compiledObject struct {
	tokens []string
	action string
}

type compiledImperative struct {
	verbs   map[string]struct{}
	objects []compiledObject
}

// Classifier is immutable after construction.
type Classifier struct {
	Version          string
	fillers          map[string]struct{}
	phrases          []compiledPhrase
	imperative       []compiledImperative
	imperativeWeight float64
	startOnly        map[string]string
	startOnlyWeight  float64
	actions          []string
}

var (
	defaultOnce       sync.Once
	defaultClassifier *Classifier
	defaultErr        error
)

// Default returns the classifier built from the embedded rules.
func Default() (*Classifier, error) {
	defaultOnce.Do(func() {
		defaultClassifier, defaultErr = Load(defaultRulesYAML)
	})
	return defaultClassifier, defaultErr
}

// LoadFile reads rules from disk; an empty path selects the default.
func LoadFile(path string) (*Classifier, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent rules %s: %w", path, err)
	}
	return Load(data)
}

func Load(data []byte) (*Classifier, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse intent rules: %w", err)
	}

	c := &Classifier{
		Version:          f.Version,
		fillers:          toSet(f.Fillers),
		imperativeWeight: f.Imperative.Strength,
		startOnly:        make(map[string]string),
		startOnlyWeight:  f.StartOnly.Strength,
	}
	seen := make(map[string]struct{})
	track := func(action string) error {
		if strings.TrimSpace(action) == "" {
			return fmt.Errorf("rule without action id")
		}
		if _, ok := seen[action]; !ok {
			seen[action] = struct{}{}
			c.actions = append(c.actions, action)
		}
		return nil
	}

	for _, rule := range f.ActionPhrases {
		if err := checkStrength(rule.Strength); err != nil {
			return nil, fmt.Errorf("action phrases for %q: %w", rule.Action, err)
		}
		if err := track(rule.Action); err != nil {
			return nil, err
		}
		for _, p := range rule.Phrases {
			tokens := gazetteer.Words(gazetteer.Normalize(p))
			if len(tokens) == 0 {
				return nil, fmt.Errorf("action %q has an empty phrase", rule.Action)
			}
			c.phrases = append(c.phrases, compiledPhrase{
				tokens:   tokens,
				action:   rule.Action,
				strength: rule.Strength,
				anchored: rule.Anchored,
			})
		}
	}

	if len(f.Imperative.Rules) > 0 {
		if err := checkStrength(f.Imperative.Strength); err != nil {
			return nil, fmt.Errorf("imperative rules: %w", err)
		}
	}
	for i, rule := range f.Imperative.Rules {
		if len(rule.Verbs) == 0 || len(rule.Objects) == 0 {
			return nil, fmt.Errorf("imperative rule %d needs verbs and objects", i)
		}
		ci := compiledImperative{verbs: toSet(rule.Verbs)}
		for _, o := range rule.Objects {
			if err := track(o.Action); err != nil {
				return nil, fmt.Errorf("imperative rule %d: %w", i, err)
			}
			tokens := gazetteer.Words(gazetteer.Normalize(o.Object))
			if len(tokens) == 0 {
				return nil, fmt.Errorf("imperative rule %d has an empty object", i)
			}
			ci.objects = append(ci.objects, compiledObject{tokens: tokens, action: o.Action})
		}
		c.imperative = append(c.imperative, ci)
	}

	if len(f.StartOnly.Verbs) > 0 {
		if err := checkStrength(f.StartOnly.Strength); err != nil {
			return nil, fmt.Errorf("start-only verbs: %w", err)
		}
	}
	for _, v := range f.StartOnly.Verbs {
		if err := track(v.Action); err != nil {
			return nil, fmt.Errorf("start-only verb %q: %w", v.Verb, err)
		}
		c.startOnly[gazetteer.Normalize(v.Verb)] = v.Action
	}

	return c, nil
}

func checkStrength(s float64) error {
	if s <= 0 || s > 1 {
		return fmt.Errorf("strength %v outside (0,1]", s)
	}
	return nil
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[gazetteer.Normalize(w)] = struct{}{}
	}
	return set
}

// Actions lists every action id referenced by the rules, in rule order.
func (c *Classifier) Actions() []string {
	out := make([]string, len(c.actions))
	copy(out, c.actions)
	return out
}

// Classify is deterministic and never fails. Empty input is information.
func (c *Classifier) Classify(text string) models.QueryIntent {
	words := gazetteer.Words(gazetteer.Normalize(text))
	if len(words) == 0 {
		return models.QueryIntent{Intent: models.IntentInformation}
	}

	var candidates []models.ActionCandidate
	add := func(action string, strength float64) {
		for i := range candidates {
			if candidates[i].ActionID == action {
				if strength > candidates[i].Strength {
					candidates[i].Strength = strength
				}
				return
			}
		}
		candidates = append(candidates, models.ActionCandidate{ActionID: action, Strength: strength})
	}

	start := c.firstContentWord(words)
	for _, p := range c.phrases {
		if p.anchored {
			if indexOf(words, p.tokens, start) == start {
				add(p.action, p.strength)
			}
			continue
		}
		if indexOf(words, p.tokens, 0) >= 0 {
			add(p.action, p.strength)
		}
	}

	if start < len(words) {
		verb := words[start]
		for _, rule := range c.imperative {
			if _, ok := rule.verbs[verb]; !ok {
				continue
			}
			if obj, ok := longestObject(words, start+1, rule.objects); ok {
				add(obj.action, c.imperativeWeight)
			}
		}
		if action, ok := c.startOnly[verb]; ok {
			add(action, c.startOnlyWeight)
		}
	}

	if len(candidates) == 0 {
		return models.QueryIntent{Intent: models.IntentInformation}
	}

	hint := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Strength > hint.Strength {
			hint = cand
		}
	}
	return models.QueryIntent{
		Intent:     models.IntentAction,
		ActionHint: hint.ActionID,
		Candidates: candidates,
	}
}

func (c *Classifier) firstContentWord(words []string) int {
	i := 0
	for i < len(words) {
		if _, filler := c.fillers[words[i]]; !filler {
			break
		}
		i++
	}
	return i
}

func longestObject(words []string, from int, objects []compiledObject) (compiledObject, bool) {
	var best compiledObject
	found := false
	for _, o := range objects {
		if indexOf(words, o.tokens, from) < 0 {
			continue
		}
		if !found || len(o.tokens) > len(best.tokens) {
			best, found = o, true
		}
	}
	return best, found
}

// indexOf finds the token sequence needle in words at or after from.
func indexOf(words, needle []string, from int) int {
	for i := from; i+len(needle) <= len(words); i++ {
		match := true
		for k, n := range needle {
			if words[i+k] != n {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
