// pkg/registry/schema.go
package registry

// ActionCatalog is the versioned contract surface of the engine: every
// action a caller may request, with its gate and write plan.
type ActionCatalog struct {
	Version     string   `yaml:"version" json:"version"`
	LastUpdated string   `yaml:"last_updated" json:"lastUpdated"`
	Actions     []Action `yaml:"actions" json:"actions"`
}

type Action struct {
	ID             string                 `yaml:"id" json:"id"`
	DisplayName    string                 `yaml:"display_name" json:"displayName"`
	Description    string                 `yaml:"description" json:"description"`
	Category       string                 `yaml:"category" json:"category"`
	Kind           string                 `yaml:"kind" json:"kind"`
	HighRisk       bool                   `yaml:"high_risk" json:"highRisk"`
	AllowedRoles   []string               `yaml:"allowed_roles" json:"allowedRoles"`
	RequiredFields []string               `yaml:"required_fields" json:"requiredFields"`
	Prefill        map[string]string      `yaml:"prefill" json:"prefill,omitempty"`
	Target         *Target                `yaml:"target" json:"target,omitempty"`
	Writes         []Write                `yaml:"writes" json:"writes,omitempty"`
	PayloadSchema  map[string]interface{} `yaml:"payload_schema" json:"payloadSchema"`
	Tags           []string               `yaml:"tags" json:"tags"`
}

// Target names the row an update action locks: the table and the payload
// field that carries the row id.
type Target struct {
	Table string `yaml:"table" json:"table"`
	Field string `yaml:"field" json:"field"`
}

type Write struct {
	Table     string `yaml:"table" json:"table"`
	Operation string `yaml:"operation" json:"operation"`
	Stage     string `yaml:"stage" json:"stage"`
}
