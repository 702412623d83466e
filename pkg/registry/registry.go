// pkg/registry/registry.go
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"maritime-query-engine/internal/common/validation"
	"maritime-query-engine/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*ActionCatalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog from disk; an empty path selects the
// embedded one.
func LoadCatalog(path string) (*ActionCatalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*ActionCatalog, error) {
	var cat ActionCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks every action and returns all problems found, not just
// the first.
func (c *ActionCatalog) Validate() error {
	var problems []string
	if len(c.Actions) == 0 {
		problems = append(problems, "catalog has no actions")
	}
	seen := make(map[string]bool, len(c.Actions))
	for i, a := range c.Actions {
		label := a.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if seen[a.ID] {
			problems = append(problems, fmt.Sprintf("%s: duplicate id", label))
		}
		seen[a.ID] = true
		for _, p := range validateAction(a) {
			problems = append(problems, label+": "+p)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid action catalog:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

func validateAction(a Action) []string {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := validation.ValidateIdentifier(a.ID); err != nil {
		add("%v", err)
	}
	kind := models.ActionKind(a.Kind)
	if kind != models.ActionRead && kind != models.ActionMutate {
		add("unknown kind %q", a.Kind)
	}
	if len(a.AllowedRoles) == 0 {
		add("no allowed roles")
	}
	for _, r := range a.AllowedRoles {
		if !models.Role(r).Valid() {
			add("unknown role %q", r)
		}
	}

	props := schemaProperties(a.PayloadSchema)
	if _, err := validation.Compile(a.PayloadSchema); err != nil {
		add("payload schema: %v", err)
	}
	for _, f := range a.RequiredFields {
		if _, ok := props[f]; !ok {
			add("required field %q not declared in payload schema", f)
		}
	}
	for field, src := range a.Prefill {
		if _, ok := props[field]; !ok {
			add("prefill field %q not declared in payload schema", field)
		}
		if src == models.PrefillQueryText {
			continue
		}
		if t, ok := models.PrefillEntityType(src); !ok || !t.Valid() {
			add("prefill source %q for %q is neither query_text nor entity:<type>", src, field)
		}
	}

	switch kind {
	case models.ActionRead:
		if len(a.Writes) > 0 || a.Target != nil || a.HighRisk {
			add("read actions cannot declare writes, a target or high_risk")
		}
	case models.ActionMutate:
		problems = append(problems, validateWrites(a)...)
	}
	return problems
}

// validateWrites enforces the operational, ledger[, audit] write plan.
func validateWrites(a Action) []string {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	want := 2
	if a.HighRisk {
		want = 3
	}
	if len(a.Writes) != want {
		add("expected %d write steps, got %d", want, len(a.Writes))
		return problems
	}

	stages := []models.WriteStage{models.StageOperational, models.StageLedger, models.StageAudit}
	for i, w := range a.Writes {
		if err := validation.ValidateIdentifier(w.Table); err != nil {
			add("write %d: %v", i, err)
		}
		if models.WriteStage(w.Stage) != stages[i] {
			add("write %d: stage %q, expected %q", i, w.Stage, stages[i])
		}
		op := models.Operation(w.Operation)
		if op != models.OperationInsert && op != models.OperationUpdate {
			add("write %d: unknown operation %q", i, w.Operation)
		}
		if i > 0 && op != models.OperationInsert {
			add("write %d: %s records are append-only", i, w.Stage)
		}
	}

	op := models.Operation(a.Writes[0].Operation)
	switch {
	case op == models.OperationUpdate && a.Target == nil:
		add("update actions need a target")
	case op == models.OperationInsert && a.Target != nil:
		add("insert actions cannot declare a target")
	case a.Target != nil:
		if a.Target.Table != a.Writes[0].Table {
			add("target table %q differs from operational table %q", a.Target.Table, a.Writes[0].Table)
		}
		if !contains(a.RequiredFields, a.Target.Field) {
			add("target field %q must be required", a.Target.Field)
		}
	}
	return problems
}

func schemaProperties(schema map[string]interface{}) map[string]interface{} {
	props, _ := schema["properties"].(map[string]interface{})
	return props
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Definitions converts the catalog into immutable action definitions, in
// catalog order.
func (c *ActionCatalog) Definitions() []*models.ActionDefinition {
	defs := make([]*models.ActionDefinition, 0, len(c.Actions))
	for _, a := range c.Actions {
		def := &models.ActionDefinition{
			ID:             a.ID,
			Description:    a.Description,
			Kind:           models.ActionKind(a.Kind),
			AllowedRoles:   make(map[models.Role]struct{}, len(a.AllowedRoles)),
			RequiredFields: append([]string(nil), a.RequiredFields...),
			HighRisk:       a.HighRisk,
			Prefill:        make(map[string]string, len(a.Prefill)),
			PayloadSchema:  a.PayloadSchema,
		}
		for _, r := range a.AllowedRoles {
			def.AllowedRoles[models.Role(r)] = struct{}{}
		}
		for k, v := range a.Prefill {
			def.Prefill[k] = v
		}
		for _, w := range a.Writes {
			def.Writes = append(def.Writes, models.WriteStep{
				Table:     w.Table,
				Operation: models.Operation(w.Operation),
				Stage:     models.WriteStage(w.Stage),
			})
		}
		if a.Target != nil {
			def.TargetTable = a.Target.Table
			def.TargetField = a.Target.Field
		}
		defs = append(defs, def)
	}
	return defs
}
