package actions

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maritime-query-engine/internal/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestReads_AreTenantScoped(t *testing.T) {
	scope := models.TenantScope{TenantID: "vessel-a", ActorID: "user-7", Role: models.RoleCrew}
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		actionID  string
		params    map[string]interface{}
		mockQuery func(mock sqlmock.Sqlmock)
		wantCount int
	}{
		{
			name:     "equipment history",
			actionID: "view_equipment_history",
			params:   map[string]interface{}{"equipment_id": "eq-1", "limit": float64(5)},
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM work_orders\s+WHERE tenant_id = \$1 AND equipment_id = \$2\s+UNION ALL`).
					WithArgs("vessel-a", "eq-1", 5).
					WillReturnRows(sqlmock.NewRows([]string{"kind", "id", "summary", "status", "created_at"}).
						AddRow("work_order", "wo-1", "Replace impeller", "open", at).
						AddRow("fault", "f-1", "Seal leaking", "open", at))
			},
			wantCount: 2,
		},
		{
			name:     "open work orders without equipment filter",
			actionID: "list_open_work_orders",
			params:   map[string]interface{}{},
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("status NOT IN ('closed', 'signed_off')")).
					WithArgs("vessel-a", "", defaultReadLimit).
					WillReturnRows(sqlmock.NewRows([]string{"id", "equipment_id", "title", "priority", "status", "created_at"}).
						AddRow("wo-1", "eq-1", "Replace impeller", "normal", "open", at))
			},
			wantCount: 1,
		},
		{
			name:     "part stock",
			actionID: "view_part_stock",
			params:   map[string]interface{}{"part_id": "part-9"},
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM parts\s+WHERE tenant_id = \$1 AND id = \$2`).
					WithArgs("vessel-a", "part-9").
					WillReturnRows(sqlmock.NewRows([]string{"id", "part_number", "name", "stock_qty", "location"}).
						AddRow("part-9", "PN-12345", "Oil filter", 4, "BOX_3D"))
			},
			wantCount: 1,
		},
		{
			name:     "part stock missing in tenant",
			actionID: "view_part_stock",
			params:   map[string]interface{}{"part_id": "part-other"},
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("FROM parts")).
					WithArgs("vessel-a", "part-other").
					WillReturnError(sql.ErrNoRows)
			},
			wantCount: 0,
		},
		{
			name:     "fault history clamps limit",
			actionID: "view_fault_history",
			params:   map[string]interface{}{"equipment_id": "eq-1", "limit": float64(5000)},
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT id, fault_code, description, severity, status, created_at\s+FROM faults\s+WHERE tenant_id = \$1 AND equipment_id = \$2`).
					WithArgs("vessel-a", "eq-1", maxReadLimit).
					WillReturnRows(sqlmock.NewRows([]string{"id", "fault_code", "description", "severity", "status", "created_at"}))
			},
			wantCount: 0,
		},
		{
			name:     "audit trail",
			actionID: "view_audit_trail",
			params:   map[string]interface{}{"entity_id": "part-9"},
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("FROM maintenance_ledger")).
					WithArgs("vessel-a", "part-9").
					WillReturnRows(sqlmock.NewRows([]string{
						"id", "tenant_id", "mutation_id", "action_id", "entity_type", "entity_id", "actor_id", "summary", "created_at",
					}).AddRow("led-1", "vessel-a", "mut-1", "adjust_stock", "part", "part-9", "user-7", []byte(`{}`), at))
				mock.ExpectQuery(regexp.QuoteMeta("FROM audit_records")).
					WithArgs("vessel-a", "part-9").
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.mockQuery(mock)

			_, count, took, err := ExecuteRead(context.Background(), db, tt.actionID, scope, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, count)
			assert.GreaterOrEqual(t, took, int64(0))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReads_MissingParams(t *testing.T) {
	db, mock := setupMockDB(t)
	scope := engineerScope()

	for _, id := range []string{"view_equipment_history", "view_part_stock", "view_fault_history", "view_audit_trail"} {
		_, _, _, err := ExecuteRead(context.Background(), db, id, scope, map[string]interface{}{})
		assert.ErrorIs(t, err, ErrMissingParam, id)
	}
	_, _, _, err := ExecuteRead(context.Background(), db, "create_work_order", scope, nil)
	assert.ErrorIs(t, err, ErrUnknownReadFor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRows_ConvertsBytes(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id", "note"}).AddRow("a", []byte("hello")))

	rows, err := db.Query("SELECT id, note FROM t")
	require.NoError(t, err)
	defer rows.Close()

	out, err := scanRows(rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "hello", out[0]["note"])
}

func TestLimitParam(t *testing.T) {
	assert.Equal(t, defaultReadLimit, limitParam(map[string]interface{}{}))
	assert.Equal(t, 1, limitParam(map[string]interface{}{"limit": float64(-3)}))
	assert.Equal(t, 7, limitParam(map[string]interface{}{"limit": 7}))
	assert.Equal(t, maxReadLimit, limitParam(map[string]interface{}{"limit": int64(101)}))
}
