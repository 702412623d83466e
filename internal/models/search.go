package models

// MatchType is how a search source compares the entity value.
type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchPrefix MatchType = "prefix"
	MatchFuzzy  MatchType = "fuzzy"
)

// Backend names the store a SearchSource lives in.
type Backend string

const (
	BackendPostgres      Backend = "postgres"
	BackendElasticsearch Backend = "elasticsearch"
)

// SearchSource is one column (or index field) an entity type is looked up
// in. For Elasticsearch sources Table is the index name.
type SearchSource struct {
	Backend   Backend   `json:"backend" yaml:"backend"`
	Table     string    `json:"table" yaml:"table"`
	Column    string    `json:"column" yaml:"column"`
	MatchType MatchType `json:"match_type" yaml:"match_type"`
	Wave      int       `json:"wave" yaml:"wave"`
	Verified  bool      `json:"verified" yaml:"verified"`
}

// SearchHit is a single row returned by a source.
type SearchHit struct {
	ID     string                 `json:"id"`
	Table  string                 `json:"table"`
	Column string                 `json:"column"`
	Wave   int                    `json:"wave"`
	Fields map[string]interface{} `json:"fields"`
}

// Key deduplicates hits across sources.
func (h SearchHit) Key() string {
	return h.Table + "/" + h.ID
}

// ResultSet is the merged output for one entity.
type ResultSet struct {
	EntityType     EntityType  `json:"entity_type"`
	CanonicalLabel string      `json:"canonical_label"`
	WavesRun       int         `json:"waves_run"`
	Hits           []SearchHit `json:"hits"`
}

// GroupedResults are result sets keyed by entity type.
type GroupedResults map[EntityType][]ResultSet

// Total counts hits across every group.
func (g GroupedResults) Total() int {
	n := 0
	for _, sets := range g {
		for _, rs := range sets {
			n += len(rs.Hits)
		}
	}
	return n
}
