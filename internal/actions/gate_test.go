package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/query/lane"
)

var _ lane.Catalog = (*Registry)(nil)

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := LoadRegistry("")
	require.NoError(t, err)
	return r
}

func engineerScope() models.TenantScope {
	return models.TenantScope{TenantID: "vessel-a", ActorID: "user-7", Role: models.RoleEngineer}
}

func TestRegistry_OrderAndLookup(t *testing.T) {
	r := loadTestRegistry(t)
	assert.NotEmpty(t, r.Version())

	ids := r.IDs()
	require.NotEmpty(t, ids)
	for i, id := range ids {
		assert.Equal(t, i, r.Position(id))
		_, ok := r.Get(id)
		assert.True(t, ok)
	}
	assert.Equal(t, len(ids), r.Position("paint_hull"))

	_, ok := r.Get("paint_hull")
	assert.False(t, ok)
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	def := &models.ActionDefinition{ID: "view_part_stock", Kind: models.ActionRead}
	_, err := NewRegistry([]*models.ActionDefinition{def, def})
	assert.Error(t, err)
}

func TestGate_ResolveOrder(t *testing.T) {
	gate := NewGate(loadTestRegistry(t))

	tests := []struct {
		name           string
		actionID       string
		scope          models.TenantScope
		payload        map[string]interface{}
		wantKind       errors.Kind
		wantCode       errors.ErrorCode
		wantAuthorized bool
		wantMissing    []string
	}{
		{
			name:     "unknown action",
			actionID: "paint_hull",
			scope:    engineerScope(),
			wantKind: errors.KindNoMatch,
			wantCode: errors.ErrCodeUnknownAction,
		},
		{
			name:     "role checked before fields",
			actionID: "create_work_order",
			scope:    models.TenantScope{TenantID: "vessel-a", ActorID: "user-1", Role: models.RoleCrew},
			payload:  map[string]interface{}{},
			wantKind: errors.KindAccessDenied,
			wantCode: errors.ErrCodeRoleNotAllowed,
		},
		{
			name:     "auditor cannot mutate",
			actionID: "adjust_stock",
			scope:    models.TenantScope{TenantID: "vessel-a", ActorID: "aud-1", Role: models.RoleAuditor},
			wantKind: errors.KindAccessDenied,
			wantCode: errors.ErrCodeRoleNotAllowed,
		},
		{
			name:     "unbound tenant",
			actionID: "create_work_order",
			scope:    models.TenantScope{ActorID: "user-7", Role: models.RoleEngineer},
			wantKind: errors.KindAccessDenied,
			wantCode: errors.ErrCodeAccessDenied,
		},
		{
			name:     "payload names another tenant",
			actionID: "create_work_order",
			scope:    engineerScope(),
			payload: map[string]interface{}{
				"tenant_id": "vessel-b", "equipment_id": "eq-1", "title": "Replace seal",
			},
			wantKind: errors.KindAccessDenied,
			wantCode: errors.ErrCodeTenantMismatch,
		},
		{
			name:           "missing required field",
			actionID:       "create_work_order",
			scope:          engineerScope(),
			payload:        map[string]interface{}{"equipment_id": "eq-1", "title": ""},
			wantKind:       errors.KindValidation,
			wantCode:       errors.ErrCodeMissingFields,
			wantAuthorized: true,
			wantMissing:    []string{"title"},
		},
		{
			name:           "schema violation",
			actionID:       "create_work_order",
			scope:          engineerScope(),
			payload:        map[string]interface{}{"equipment_id": "eq-1", "title": "Fix", "priority": "urgent"},
			wantKind:       errors.KindValidation,
			wantCode:       errors.ErrCodeInvalidPayload,
			wantAuthorized: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := gate.Resolve(context.Background(), tt.actionID, tt.scope, tt.payload)
			require.Error(t, err)
			stdErr := errors.AsStandard(err)
			assert.Equal(t, tt.wantKind, stdErr.Kind)
			assert.Equal(t, tt.wantCode, stdErr.Code)
			assert.False(t, res.OK)
			assert.Equal(t, tt.wantAuthorized, res.Authorized)
			assert.Equal(t, tt.wantMissing, res.MissingFields)
		})
	}
}

func TestGate_ResolveOK(t *testing.T) {
	gate := NewGate(loadTestRegistry(t))

	res, err := gate.Resolve(context.Background(), "create_work_order", engineerScope(), map[string]interface{}{
		"tenant_id":    "vessel-a",
		"equipment_id": "eq-1",
		"title":        "Main engine overheating",
		"priority":     "high",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Authorized)
	assert.Equal(t, "create_work_order", res.Action.ID)
}
