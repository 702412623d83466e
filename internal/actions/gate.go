package actions

import (
	"context"

	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/models"
)

// Resolution is the gate's verdict for one request.
type Resolution struct {
	Action        *models.ActionDefinition `json:"-"`
	OK            bool                     `json:"ok"`
	Authorized    bool                     `json:"authorized"`
	MissingFields []string                 `json:"missing_fields,omitempty"`
}

// Gate checks an action request before anything is read or staged.
type Gate struct {
	registry *Registry
}

func NewGate(registry *Registry) *Gate {
	return &Gate{registry: registry}
}

// Resolve validates in a fixed order: the action exists, the role may run
// it, the scope is bound to a tenant (and the payload does not name a
// different one), required fields are present, and the payload matches the
// action's schema. The first failing check decides the error.
func (g *Gate) Resolve(ctx context.Context, actionID string, scope models.TenantScope, payload map[string]interface{}) (*Resolution, error) {
	res := &Resolution{}

	def, ok := g.registry.Get(actionID)
	if !ok {
		metrics.GateOutcomes.WithLabelValues("unknown", "no_match").Inc()
		return res, errors.NewUnknownActionError(actionID)
	}
	res.Action = def

	if !def.Allows(scope.Role) {
		metrics.GateOutcomes.WithLabelValues(def.ID, "role_denied").Inc()
		return res, errors.NewRoleNotAllowedError(def.ID, string(scope.Role))
	}
	if err := scope.Validate(); err != nil {
		metrics.GateOutcomes.WithLabelValues(def.ID, "tenant_unbound").Inc()
		return res, errors.NewAccessDeniedError(err.Error())
	}
	if t, ok := payload["tenant_id"].(string); ok && t != scope.TenantID {
		metrics.GateOutcomes.WithLabelValues(def.ID, "tenant_mismatch").Inc()
		return res, errors.NewTenantMismatchError()
	}
	res.Authorized = true

	if missing := def.MissingFields(payload); len(missing) > 0 {
		res.MissingFields = missing
		metrics.GateOutcomes.WithLabelValues(def.ID, "missing_fields").Inc()
		return res, errors.NewMissingFieldsError(def.ID, missing)
	}

	if result := g.registry.schema(def.ID).Validate(withoutTenant(payload)); !result.Valid {
		metrics.GateOutcomes.WithLabelValues(def.ID, "invalid_payload").Inc()
		return res, errors.NewInvalidPayloadError(def.ID, result.GetErrorMessages())
	}

	res.OK = true
	metrics.GateOutcomes.WithLabelValues(def.ID, "ok").Inc()
	return res, nil
}

// withoutTenant drops the tenant echo a client may send alongside the
// payload; it was checked above and is not part of any action schema.
func withoutTenant(payload map[string]interface{}) map[string]interface{} {
	if _, ok := payload["tenant_id"]; !ok {
		return payload
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k != "tenant_id" {
			out[k] = v
		}
	}
	return out
}
