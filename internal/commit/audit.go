package commit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/models"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

const (
	selectLedgerForEntity = `SELECT id, tenant_id, mutation_id, action_id, entity_type, entity_id, actor_id, summary, created_at
		FROM maintenance_ledger WHERE tenant_id = $1 AND entity_id = $2 ORDER BY created_at, id`
	selectAuditForEntity = `SELECT id, tenant_id, mutation_id, action_id, entity_type, entity_id, actor_id, actor_role, before_state, after_state, payload_hash, created_at
		FROM audit_records WHERE tenant_id = $1 AND entity_id = $2 ORDER BY created_at, id`
)

// LoadAuditTrail reads the ledger entries and audit records of one entity
// within the scope's tenant, oldest first.
func LoadAuditTrail(ctx context.Context, q Querier, scope models.TenantScope, entityID string) (*models.AuditTrail, error) {
	trail := &models.AuditTrail{
		EntityID: entityID,
		Ledger:   []models.LedgerEntry{},
		Audit:    []models.AuditRecord{},
	}

	rows, err := q.QueryContext(ctx, selectLedgerForEntity, scope.TenantID, entityID)
	if err != nil {
		return nil, errors.NewDatabaseError("read ledger", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.LedgerEntry
		var summary []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.MutationID, &e.ActionID,
			&e.EntityType, &e.EntityID, &e.ActorID, &summary, &e.CreatedAt); err != nil {
			return nil, errors.NewDatabaseError("scan ledger", err)
		}
		if e.Summary, err = decodeState(summary); err != nil {
			return nil, errors.NewInternalError(fmt.Errorf("ledger %s summary: %w", e.ID, err))
		}
		trail.Ledger = append(trail.Ledger, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("read ledger", err)
	}

	auditRows, err := q.QueryContext(ctx, selectAuditForEntity, scope.TenantID, entityID)
	if err != nil {
		return nil, errors.NewDatabaseError("read audit records", err)
	}
	defer auditRows.Close()

	for auditRows.Next() {
		var r models.AuditRecord
		var before, after []byte
		if err := auditRows.Scan(&r.ID, &r.TenantID, &r.MutationID, &r.ActionID,
			&r.EntityType, &r.EntityID, &r.ActorID, &r.ActorRole,
			&before, &after, &r.PayloadHash, &r.CreatedAt); err != nil {
			return nil, errors.NewDatabaseError("scan audit record", err)
		}
		if r.Before, err = decodeState(before); err != nil {
			return nil, errors.NewInternalError(fmt.Errorf("audit %s before state: %w", r.ID, err))
		}
		if r.After, err = decodeState(after); err != nil {
			return nil, errors.NewInternalError(fmt.Errorf("audit %s after state: %w", r.ID, err))
		}
		trail.Audit = append(trail.Audit, r)
	}
	if err := auditRows.Err(); err != nil {
		return nil, errors.NewDatabaseError("read audit records", err)
	}

	return trail, nil
}

func decodeState(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
