package models

// EntityType is the closed set of domain entity kinds the extractor emits.
type EntityType string

const (
	EntityEquipment EntityType = "equipment"
	EntityFault     EntityType = "fault"
	EntityPart      EntityType = "part"
	EntityLocation  EntityType = "location"
	EntityDocument  EntityType = "document"
	EntityBrand     EntityType = "brand"
	EntitySymptom   EntityType = "symptom"
)

var entityTypes = map[EntityType]struct{}{
	EntityEquipment: {},
	EntityFault:     {},
	EntityPart:      {},
	EntityLocation:  {},
	EntityDocument:  {},
	EntityBrand:     {},
	EntitySymptom:   {},
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	_, ok := entityTypes[t]
	return ok
}

// Entity is a typed span extracted from a query. Weight is the strength of
// the textual match, CanonicalWeight the confidence that the span maps to
// CanonicalLabel. Both are always set.
type Entity struct {
	Type            EntityType `json:"type"`
	CanonicalLabel  string     `json:"canonical_label"`
	RawSpan         string     `json:"raw_span"`
	Weight          float64    `json:"weight"`
	CanonicalWeight float64    `json:"canonical_weight"`
	Start           int        `json:"-"`
	End             int        `json:"-"`
}

// Score combines both weights into the single value callers sort by.
func (e Entity) Score() float64 {
	return e.Weight * e.CanonicalWeight
}

// Key identifies an entity independent of where it was found in the text.
func (e Entity) Key() string {
	return string(e.Type) + ":" + e.CanonicalLabel
}

// BestScore returns the highest Score among entities, or 0.
func BestScore(entities []Entity) float64 {
	best := 0.0
	for _, e := range entities {
		if s := e.Score(); s > best {
			best = s
		}
	}
	return best
}

// FirstOfType returns the highest ranked entity of type t. Entities are
// expected to be sorted by score already.
func FirstOfType(entities []Entity, t EntityType) (Entity, bool) {
	for _, e := range entities {
		if e.Type == t {
			return e, true
		}
	}
	return Entity{}, false
}
