package models

// ActionKind is the closed set of action kinds.
type ActionKind string

const (
	ActionRead   ActionKind = "read"
	ActionMutate ActionKind = "mutate"
)

// Operation is the SQL operation a write step performs.
type Operation string

const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
)

// WriteStage orders the steps of a mutation.
type WriteStage string

const (
	StageOperational WriteStage = "operational"
	StageLedger      WriteStage = "ledger"
	StageAudit       WriteStage = "audit"
)

type WriteStep struct {
	Table     string     `json:"table"`
	Operation Operation  `json:"operation"`
	Stage     WriteStage `json:"stage"`
}

// ActionDefinition is immutable once the registry is built.
type ActionDefinition struct {
	ID             string
	Description    string
	Kind           ActionKind
	AllowedRoles   map[Role]struct{}
	RequiredFields []string
	Writes         []WriteStep
	HighRisk       bool
	// Prefill maps a required field to where the query pipeline can source
	// it from: "entity:<type>" or "query_text".
	Prefill       map[string]string
	PayloadSchema map[string]interface{}
	// TargetField names the payload field holding the id of the row an
	// update action locks. Empty for insert actions.
	TargetField string
	TargetTable string
}

func (d *ActionDefinition) Allows(role Role) bool {
	_, ok := d.AllowedRoles[role]
	return ok
}

// OperationalStep returns the first write step.
func (d *ActionDefinition) OperationalStep() (WriteStep, bool) {
	if len(d.Writes) == 0 {
		return WriteStep{}, false
	}
	return d.Writes[0], true
}

// MissingFields lists required fields absent (or empty strings) in payload.
func (d *ActionDefinition) MissingFields(payload map[string]interface{}) []string {
	var missing []string
	for _, f := range d.RequiredFields {
		v, ok := payload[f]
		if !ok || v == nil {
			missing = append(missing, f)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// UnresolvedFields counts required fields that cannot be sourced from the
// given entities through the prefill table.
func (d *ActionDefinition) UnresolvedFields(entities []Entity) int {
	present := make(map[EntityType]bool, len(entities))
	for _, e := range entities {
		present[e.Type] = true
	}
	n := 0
	for _, f := range d.RequiredFields {
		src := d.Prefill[f]
		if src == PrefillQueryText {
			continue
		}
		if t, ok := PrefillEntityType(src); ok && present[t] {
			continue
		}
		n++
	}
	return n
}

const (
	PrefillQueryText    = "query_text"
	prefillEntityPrefix = "entity:"
)

// PrefillEntityType returns the entity type a prefill source refers to.
func PrefillEntityType(src string) (EntityType, bool) {
	if len(src) <= len(prefillEntityPrefix) || src[:len(prefillEntityPrefix)] != prefillEntityPrefix {
		return "", false
	}
	return EntityType(src[len(prefillEntityPrefix):]), true
}
