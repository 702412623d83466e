package actions

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"maritime-query-engine/internal/commit"
	"maritime-query-engine/internal/models"
)

var (
	ErrMissingParam   = stderrors.New("missing required parameter")
	ErrUnknownReadFor = stderrors.New("no read query for action")
)

// ReadFunc returns: data, rowCount, executionTime (ms), error. Every query
// is parameterized and filtered by the scope's tenant.
type ReadFunc func(ctx context.Context, db *sql.DB, scope models.TenantScope, params map[string]interface{}) (interface{}, int, int64, error)

var Reads = map[string]ReadFunc{
	"view_equipment_history": EquipmentHistory,
	"list_open_work_orders":  OpenWorkOrders,
	"view_part_stock":        PartStock,
	"view_fault_history":     FaultHistory,
	"view_audit_trail":       AuditTrail,
}

func ExecuteRead(ctx context.Context, db *sql.DB, actionID string, scope models.TenantScope, params map[string]interface{}) (interface{}, int, int64, error) {
	fn, exists := Reads[actionID]
	if !exists {
		return nil, 0, 0, fmt.Errorf("%w: %s", ErrUnknownReadFor, actionID)
	}
	return fn(ctx, db, scope, params)
}

const (
	defaultReadLimit = 20
	maxReadLimit     = 100
)

func EquipmentHistory(ctx context.Context, db *sql.DB, scope models.TenantScope, params map[string]interface{}) (interface{}, int, int64, error) {
	equipmentID, ok := params["equipment_id"].(string)
	if !ok || equipmentID == "" {
		return nil, 0, 0, ErrMissingParam
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, `
		SELECT 'work_order' AS kind, id, title AS summary, status, created_at
		FROM work_orders
		WHERE tenant_id = $1 AND equipment_id = $2
		UNION ALL
		SELECT 'fault' AS kind, id, description AS summary, status, created_at
		FROM faults
		WHERE tenant_id = $1 AND equipment_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, scope.TenantID, equipmentID, limitParam(params))
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, 0, 0, err
	}
	return results, len(results), time.Since(start).Milliseconds(), nil
}

func OpenWorkOrders(ctx context.Context, db *sql.DB, scope models.TenantScope, params map[string]interface{}) (interface{}, int, int64, error) {
	equipmentID, _ := params["equipment_id"].(string)

	start := time.Now()
	rows, err := db.QueryContext(ctx, `
		SELECT id, equipment_id, title, priority, status, created_at
		FROM work_orders
		WHERE tenant_id = $1
		  AND status NOT IN ('closed', 'signed_off')
		  AND ($2 = '' OR equipment_id = $2)
		ORDER BY created_at DESC
		LIMIT $3`, scope.TenantID, equipmentID, limitParam(params))
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, 0, 0, err
	}
	return results, len(results), time.Since(start).Milliseconds(), nil
}

func PartStock(ctx context.Context, db *sql.DB, scope models.TenantScope, params map[string]interface{}) (interface{}, int, int64, error) {
	partID, ok := params["part_id"].(string)
	if !ok || partID == "" {
		return nil, 0, 0, ErrMissingParam
	}

	start := time.Now()

	var id, partNumber, name string
	var location sql.NullString
	var stock int64
	err := db.QueryRowContext(ctx, `
		SELECT id, part_number, name, stock_qty, location
		FROM parts
		WHERE tenant_id = $1 AND id = $2`, scope.TenantID, partID).Scan(
		&id, &partNumber, &name, &stock, &location,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return []map[string]interface{}{}, 0, time.Since(start).Milliseconds(), nil
	}
	if err != nil {
		return nil, 0, 0, err
	}

	result := map[string]interface{}{
		"id":         id,
		"partNumber": partNumber,
		"name":       name,
		"stockQty":   stock,
		"location":   location.String,
	}
	return result, 1, time.Since(start).Milliseconds(), nil
}

func FaultHistory(ctx context.Context, db *sql.DB, scope models.TenantScope, params map[string]interface{}) (interface{}, int, int64, error) {
	equipmentID, ok := params["equipment_id"].(string)
	if !ok || equipmentID == "" {
		return nil, 0, 0, ErrMissingParam
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, `
		SELECT id, fault_code, description, severity, status, created_at
		FROM faults
		WHERE tenant_id = $1 AND equipment_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, scope.TenantID, equipmentID, limitParam(params))
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, 0, 0, err
	}
	return results, len(results), time.Since(start).Milliseconds(), nil
}

func AuditTrail(ctx context.Context, db *sql.DB, scope models.TenantScope, params map[string]interface{}) (interface{}, int, int64, error) {
	entityID, ok := params["entity_id"].(string)
	if !ok || entityID == "" {
		return nil, 0, 0, ErrMissingParam
	}

	start := time.Now()
	trail, err := commit.LoadAuditTrail(ctx, db, scope, entityID)
	if err != nil {
		return nil, 0, 0, err
	}
	return trail, len(trail.Ledger) + len(trail.Audit), time.Since(start).Milliseconds(), nil
}

// scanRows reads every row into a column-keyed map. Byte slices become
// strings so the rows encode as readable JSON.
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func limitParam(params map[string]interface{}) int {
	var n float64
	switch v := params["limit"].(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	default:
		return defaultReadLimit
	}
	return int(math.Max(1, math.Min(maxReadLimit, math.Trunc(n))))
}
