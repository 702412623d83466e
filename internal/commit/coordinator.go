// Package commit applies confirmed mutations: the operational write, the
// ledger entry and, for high-risk actions, the audit record, in one
// transaction.
package commit

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"maritime-query-engine/internal/common/database"
	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/common/validation"
	"maritime-query-engine/internal/models"
)

type Config struct {
	Timeout time.Duration
}

// Definitions looks up action definitions by id.
type Definitions interface {
	Get(id string) (*models.ActionDefinition, bool)
}

// Invalidator drops a tenant's cached search results after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// AuditPublisher forwards committed audit records to compliance consumers.
type AuditPublisher interface {
	PublishAudit(ctx context.Context, record *models.AuditRecord) error
}

type Coordinator struct {
	config      *Config
	db          *sql.DB
	defs        Definitions
	invalidator Invalidator
	publisher   AuditPublisher
	logger      logger.Logger
	now         func() time.Time
}

// NewCoordinator wires the coordinator. invalidator and publisher may be
// nil; commits then skip cache invalidation or compliance publication.
func NewCoordinator(config *Config, db *sql.DB, defs Definitions, invalidator Invalidator, publisher AuditPublisher, log logger.Logger) *Coordinator {
	return &Coordinator{
		config:      config,
		db:          db,
		defs:        defs,
		invalidator: invalidator,
		publisher:   publisher,
		logger:      log.WithFields(map[string]interface{}{"component": "commit"}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Commit applies a CONFIRMED request. On return req.State is COMMITTED,
// ROLLED_BACK (conflict or storage failure) or REJECTED (business rule).
func (c *Coordinator) Commit(ctx context.Context, req *models.MutationRequest) (*models.CommitResult, error) {
	if req.State != models.StateConfirmed {
		return nil, errors.NewInternalError(fmt.Errorf("mutation %s is %s, not %s", req.ID, req.State, models.StateConfirmed))
	}

	def, ok := c.defs.Get(req.ActionID)
	if !ok {
		return nil, c.fail(req, models.StateRejected, errors.NewUnknownActionError(req.ActionID))
	}

	unit, err := NewWriteUnit(def, req, c.now())
	if err != nil {
		return nil, c.fail(req, models.StateRolledBack, errors.NewInternalError(err))
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	var result *models.CommitResult
	err = database.WithTx(ctx, c.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		var applyErr error
		result, applyErr = unit.Apply(ctx, tx)
		return applyErr
	})
	if err != nil {
		stdErr, state := c.classify(req, err)
		return nil, c.fail(req, state, stdErr)
	}

	if err := req.Transition(models.StateCommitted); err != nil {
		return nil, errors.NewInternalError(err)
	}

	metrics.CommitsTotal.WithLabelValues(req.ActionID, string(models.StateCommitted)).Inc()
	metrics.LedgerRecords.Inc()
	if unit.HasAudit() {
		metrics.AuditRecords.Inc()
	}

	log := c.logger.WithFields(map[string]interface{}{
		"mutationId": req.ID,
		"actionId":   req.ActionID,
		"tenantId":   req.Scope.TenantID,
		"entityId":   result.EntityID,
	})
	log.Info("mutation committed", map[string]interface{}{
		"ledgerEventId": result.LedgerEventID,
		"auditRecordId": result.AuditRecordID,
	})

	c.afterCommit(ctx, req, unit, log)
	return result, nil
}

// afterCommit runs the steps that must not undo a commit when they fail.
func (c *Coordinator) afterCommit(ctx context.Context, req *models.MutationRequest, unit *WriteUnit, log logger.Logger) {
	if c.invalidator != nil {
		if err := c.invalidator.Invalidate(ctx, req.Scope.TenantID); err != nil {
			log.Warn("search cache invalidation failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if c.publisher != nil && unit.HasAudit() {
		if err := c.publisher.PublishAudit(ctx, unit.Audit()); err != nil {
			log.Warn("compliance event not published", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (c *Coordinator) classify(req *models.MutationRequest, err error) (*errors.StandardError, models.MutationState) {
	var stdErr *errors.StandardError
	switch {
	case stderrors.As(err, &stdErr):
		if stdErr.Kind == errors.KindBusinessRuleRejection || stdErr.Kind == errors.KindValidation {
			return stdErr, models.StateRejected
		}
		return stdErr, models.StateRolledBack
	case database.IsConcurrencyError(err), stderrors.Is(err, ErrVersionMismatch):
		return errors.NewConflictError(req.TargetID, err.Error()), models.StateRolledBack
	case database.IsUniqueViolation(err):
		return errors.NewConflictError(req.ID, err.Error()), models.StateRolledBack
	default:
		return errors.NewDatabaseError("commit", err), models.StateRolledBack
	}
}

func (c *Coordinator) fail(req *models.MutationRequest, state models.MutationState, stdErr *errors.StandardError) error {
	if err := req.Transition(state); err != nil {
		c.logger.Error("mutation state transition refused", map[string]interface{}{
			"mutationId": req.ID,
			"error":      err.Error(),
		})
	}
	req.Failure = stdErr.Message
	metrics.CommitsTotal.WithLabelValues(req.ActionID, string(req.State)).Inc()

	c.logger.Warn("mutation not committed", map[string]interface{}{
		"mutationId": req.ID,
		"actionId":   req.ActionID,
		"tenantId":   req.Scope.TenantID,
		"state":      string(req.State),
		"kind":       string(stdErr.Kind),
		"details":    stdErr.Details,
	})
	return stdErr
}

// CurrentVersion reads the version of a target row in the caller's tenant.
// Update actions record it when the request is staged.
func (c *Coordinator) CurrentVersion(ctx context.Context, scope models.TenantScope, table, id string) (int64, error) {
	if err := validation.ValidateIdentifier(table); err != nil {
		return 0, errors.NewInternalError(err)
	}
	query := `SELECT version FROM ` + database.QuoteIdentifier(table) + ` WHERE id = $1 AND tenant_id = $2`

	var version int64
	err := c.db.QueryRowContext(ctx, query, id, scope.TenantID).Scan(&version)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, errors.NewBusinessRuleError("Target record not found", fmt.Sprintf("record: %s", id))
	}
	if err != nil {
		return 0, errors.NewDatabaseError("read target version", err)
	}
	return version, nil
}

// AuditTrail returns the ledger and audit history of one entity.
func (c *Coordinator) AuditTrail(ctx context.Context, scope models.TenantScope, entityID string) (*models.AuditTrail, error) {
	return LoadAuditTrail(ctx, c.db, scope, entityID)
}
