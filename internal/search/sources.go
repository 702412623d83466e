package search

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"maritime-query-engine/internal/common/validation"
	"maritime-query-engine/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var defaultSourcesYAML []byte

type sourcesFile struct {
	Version string                                      `yaml:"version"`
	Sources map[models.EntityType][]models.SearchSource `yaml:"sources"`
}

// TypedSource pairs a source with the entity type it serves.
type TypedSource struct {
	EntityType models.EntityType
	Source     models.SearchSource
}

// SourceTable is the immutable routing table. Unverified entries are kept
// aside in Dropped and never routed to.
type SourceTable struct {
	Version string
	waves   map[models.EntityType][][]models.SearchSource
	all     []TypedSource
	dropped []TypedSource
}

var indexNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

func DefaultSources() (*SourceTable, error) {
	return ParseSources(defaultSourcesYAML)
}

// LoadSources reads a table from disk; an empty path selects the embedded one.
func LoadSources(path string) (*SourceTable, error) {
	if path == "" {
		return DefaultSources()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSources(data)
}

func ParseSources(data []byte) (*SourceTable, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}

	t := &SourceTable{
		Version: f.Version,
		waves:   make(map[models.EntityType][][]models.SearchSource),
	}

	types := make([]models.EntityType, 0, len(f.Sources))
	for et := range f.Sources {
		types = append(types, et)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var problems []string
	for _, et := range types {
		if !et.Valid() {
			problems = append(problems, fmt.Sprintf("unknown entity type %q", et))
			continue
		}
		byWave := make(map[int][]models.SearchSource)
		for i, src := range f.Sources[et] {
			if err := validateSource(src); err != nil {
				problems = append(problems, fmt.Sprintf("%s[%d]: %v", et, i, err))
				continue
			}
			ts := TypedSource{EntityType: et, Source: src}
			if !src.Verified {
				t.dropped = append(t.dropped, ts)
				continue
			}
			t.all = append(t.all, ts)
			byWave[src.Wave] = append(byWave[src.Wave], src)
		}

		numbers := make([]int, 0, len(byWave))
		for w := range byWave {
			numbers = append(numbers, w)
		}
		sort.Ints(numbers)
		for _, w := range numbers {
			t.waves[et] = append(t.waves[et], byWave[w])
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid search sources:\n  %s", strings.Join(problems, "\n  "))
	}
	return t, nil
}

func validateSource(src models.SearchSource) error {
	switch src.Backend {
	case models.BackendPostgres:
		if err := validation.ValidateIdentifier(src.Table); err != nil {
			return fmt.Errorf("table: %w", err)
		}
	case models.BackendElasticsearch:
		if !indexNamePattern.MatchString(src.Table) {
			return fmt.Errorf("index %q is not a valid index name", src.Table)
		}
	default:
		return fmt.Errorf("unknown backend %q", src.Backend)
	}
	if err := validation.ValidateIdentifier(src.Column); err != nil {
		return fmt.Errorf("column: %w", err)
	}
	switch src.MatchType {
	case models.MatchExact, models.MatchPrefix:
	case models.MatchFuzzy:
		if src.Backend != models.BackendElasticsearch {
			return fmt.Errorf("fuzzy matching needs an elasticsearch source")
		}
	default:
		return fmt.Errorf("unknown match type %q", src.MatchType)
	}
	if src.Wave < 1 {
		return fmt.Errorf("wave must be >= 1, got %d", src.Wave)
	}
	return nil
}

// Waves returns the verified sources of et grouped by wave, ascending.
func (t *SourceTable) Waves(et models.EntityType) [][]models.SearchSource {
	return t.waves[et]
}

// Sources lists every routed source.
func (t *SourceTable) Sources() []TypedSource {
	return append([]TypedSource(nil), t.all...)
}

// Dropped lists the unverified entries excluded at load.
func (t *SourceTable) Dropped() []TypedSource {
	return append([]TypedSource(nil), t.dropped...)
}
