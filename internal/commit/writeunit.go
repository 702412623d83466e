package commit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"maritime-query-engine/internal/common/database"
	"maritime-query-engine/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotMutation  = stderrors.New("NOT_A_MUTATION")
	ErrNoWriter     = stderrors.New("NO_OPERATIONAL_WRITER")
	ErrNoLedgerStep = stderrors.New("NO_LEDGER_STEP")
	ErrNoAuditStep  = stderrors.New("NO_AUDIT_STEP")
)

// WriteUnit is the operational write, its ledger entry and, for high-risk
// actions, its audit record. The three are applied together or not at all.
type WriteUnit struct {
	req         *models.MutationRequest
	op          operation
	ledgerTable string
	ledger      models.LedgerEntry
	auditTable  string
	audit       *models.AuditRecord
	now         time.Time
}

// NewWriteUnit checks the action's write plan against the known writers
// and prepares the ledger and audit records. A plan without a ledger step
// is refused.
func NewWriteUnit(def *models.ActionDefinition, req *models.MutationRequest, now time.Time) (*WriteUnit, error) {
	if def.Kind != models.ActionMutate {
		return nil, fmt.Errorf("%w: %s", ErrNotMutation, def.ID)
	}
	if def.ID != req.ActionID {
		return nil, fmt.Errorf("request for %s applied to definition %s", req.ActionID, def.ID)
	}

	op, ok := operations[def.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoWriter, def.ID)
	}
	step, _ := def.OperationalStep()
	if step.Table != op.table {
		return nil, fmt.Errorf("%s writes %s but the catalog declares %s", def.ID, op.table, step.Table)
	}
	if len(def.Writes) < 2 || def.Writes[1].Stage != models.StageLedger {
		return nil, fmt.Errorf("%w: %s", ErrNoLedgerStep, def.ID)
	}

	u := &WriteUnit{
		req:         req,
		op:          op,
		ledgerTable: def.Writes[1].Table,
		ledger: models.LedgerEntry{
			ID:         uuid.NewString(),
			TenantID:   req.Scope.TenantID,
			MutationID: req.ID,
			ActionID:   req.ActionID,
			ActorID:    req.Scope.ActorID,
			CreatedAt:  now,
		},
		now: now,
	}

	if def.HighRisk {
		if len(def.Writes) < 3 || def.Writes[2].Stage != models.StageAudit {
			return nil, fmt.Errorf("%w: %s", ErrNoAuditStep, def.ID)
		}
		hash, err := payloadHash(req.Payload)
		if err != nil {
			return nil, err
		}
		u.auditTable = def.Writes[2].Table
		u.audit = &models.AuditRecord{
			ID:          uuid.NewString(),
			TenantID:    req.Scope.TenantID,
			MutationID:  req.ID,
			ActionID:    req.ActionID,
			ActorID:     req.Scope.ActorID,
			ActorRole:   string(req.Scope.Role),
			PayloadHash: hash,
			CreatedAt:   now,
		}
	}
	return u, nil
}

// HasAudit reports whether the unit writes an audit record.
func (u *WriteUnit) HasAudit() bool {
	return u.audit != nil
}

// Apply runs every step inside tx.
func (u *WriteUnit) Apply(ctx context.Context, tx *sql.Tx) (*models.CommitResult, error) {
	effect, err := u.op.write(ctx, tx, u.req, u.now)
	if err != nil {
		return nil, err
	}

	u.ledger.EntityType = effect.EntityType
	u.ledger.EntityID = effect.EntityID
	u.ledger.Summary = effect.After
	summary, err := json.Marshal(effect.After)
	if err != nil {
		return nil, fmt.Errorf("encode ledger summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertLedgerSQL(u.ledgerTable),
		u.ledger.ID, u.ledger.TenantID, u.ledger.MutationID, u.ledger.ActionID,
		u.ledger.EntityType, u.ledger.EntityID, u.ledger.ActorID, summary, u.ledger.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	result := &models.CommitResult{
		MutationID:    u.req.ID,
		State:         models.StateCommitted,
		EntityID:      effect.EntityID,
		LedgerEventID: u.ledger.ID,
		CommittedAt:   u.now,
	}

	if u.audit == nil {
		return result, nil
	}

	u.audit.EntityType = effect.EntityType
	u.audit.EntityID = effect.EntityID
	u.audit.Before = effect.Before
	u.audit.After = effect.After
	before, err := json.Marshal(effect.Before)
	if err != nil {
		return nil, fmt.Errorf("encode audit before state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertAuditSQL(u.auditTable),
		u.audit.ID, u.audit.TenantID, u.audit.MutationID, u.audit.ActionID,
		u.audit.EntityType, u.audit.EntityID, u.audit.ActorID, u.audit.ActorRole,
		before, summary, u.audit.PayloadHash, u.audit.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}
	result.AuditRecordID = u.audit.ID
	return result, nil
}

// Audit returns the audit record once Apply has filled it in.
func (u *WriteUnit) Audit() *models.AuditRecord {
	return u.audit
}

func insertLedgerSQL(table string) string {
	return `INSERT INTO ` + database.QuoteIdentifier(table) +
		` (id, tenant_id, mutation_id, action_id, entity_type, entity_id, actor_id, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
}

func insertAuditSQL(table string) string {
	return `INSERT INTO ` + database.QuoteIdentifier(table) +
		` (id, tenant_id, mutation_id, action_id, entity_type, entity_id, actor_id, actor_role, before_state, after_state, payload_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
}

// payloadHash fingerprints the confirmed payload. encoding/json sorts map
// keys, so equal payloads hash equally.
func payloadHash(payload map[string]interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
