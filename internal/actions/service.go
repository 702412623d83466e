package actions

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/models"

	"github.com/google/uuid"
)

type Config struct {
	ConfirmationWindow time.Duration
	// Retention keeps a request readable after its window closes, so a late
	// confirm is answered with REJECTED instead of an unknown token.
	Retention time.Duration
}

// Committer applies confirmed mutations and reads target versions.
type Committer interface {
	Commit(ctx context.Context, req *models.MutationRequest) (*models.CommitResult, error)
	CurrentVersion(ctx context.Context, scope models.TenantScope, table, id string) (int64, error)
}

type Service struct {
	config    *Config
	registry  *Registry
	gate      *Gate
	db        *sql.DB
	pending   PendingStore
	committer Committer
	logger    logger.Logger
	now       func() time.Time
}

// ExecuteResult is a read result or, for mutations, the staged request
// waiting for confirmation. Exactly one of Data and Pending is set.
type ExecuteResult struct {
	ActionID      string               `json:"action_id"`
	Kind          models.ActionKind    `json:"kind"`
	Data          interface{}          `json:"data,omitempty"`
	RowCount      int                  `json:"row_count"`
	ExecutionTime int64                `json:"execution_time_ms"`
	Pending       *PendingConfirmation `json:"pending,omitempty"`
}

type PendingConfirmation struct {
	Token      string               `json:"confirmation_token"`
	MutationID string               `json:"mutation_id"`
	ActionID   string               `json:"action_id"`
	State      models.MutationState `json:"state"`
	HighRisk   bool                 `json:"high_risk"`
	ExpiresAt  time.Time            `json:"expires_at"`
}

// NewService fails if a read action in the registry has no read query.
func NewService(config *Config, registry *Registry, db *sql.DB, pending PendingStore, committer Committer, log logger.Logger) (*Service, error) {
	for _, id := range registry.IDs() {
		def, _ := registry.Get(id)
		if def.Kind != models.ActionRead {
			continue
		}
		if _, ok := Reads[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReadFor, id)
		}
	}
	if config.ConfirmationWindow <= 0 {
		return nil, fmt.Errorf("confirmation window must be positive")
	}

	return &Service{
		config:    config,
		registry:  registry,
		gate:      NewGate(registry),
		db:        db,
		pending:   pending,
		committer: committer,
		logger:    log.WithFields(map[string]interface{}{"component": "actions"}),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// Resolve runs the gate without executing anything.
func (s *Service) Resolve(ctx context.Context, actionID string, scope models.TenantScope, payload map[string]interface{}) (*Resolution, error) {
	return s.gate.Resolve(ctx, actionID, scope, payload)
}

// Execute runs a read action immediately. A mutate action is only staged:
// it returns a confirmation token and nothing is written until Confirm.
func (s *Service) Execute(ctx context.Context, actionID string, scope models.TenantScope, payload map[string]interface{}) (*ExecuteResult, error) {
	res, err := s.gate.Resolve(ctx, actionID, scope, payload)
	if err != nil {
		return nil, err
	}
	def := res.Action
	payload = withoutTenant(payload)

	if def.Kind == models.ActionRead {
		data, count, took, err := ExecuteRead(ctx, s.db, def.ID, scope, payload)
		if err != nil {
			return nil, errors.NewDatabaseError(def.ID, err)
		}
		return &ExecuteResult{
			ActionID:      def.ID,
			Kind:          def.Kind,
			Data:          data,
			RowCount:      count,
			ExecutionTime: took,
		}, nil
	}

	pending, err := s.stage(ctx, def, scope, payload)
	if err != nil {
		return nil, err
	}
	return &ExecuteResult{ActionID: def.ID, Kind: def.Kind, Pending: pending}, nil
}

func (s *Service) stage(ctx context.Context, def *models.ActionDefinition, scope models.TenantScope, payload map[string]interface{}) (*PendingConfirmation, error) {
	now := s.now()
	req := &models.MutationRequest{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		ActionID:  def.ID,
		Scope:     scope,
		Payload:   payload,
		State:     models.StateDraft,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.ConfirmationWindow),
	}

	if def.TargetField != "" {
		req.TargetID, _ = payload[def.TargetField].(string)
		version, err := s.committer.CurrentVersion(ctx, scope, def.TargetTable, req.TargetID)
		if err != nil {
			return nil, err
		}
		req.TargetVersion = version
	}

	if err := req.Transition(models.StatePendingConfirmation); err != nil {
		return nil, errors.NewInternalError(err)
	}
	if err := s.pending.Save(ctx, req, s.config.ConfirmationWindow+s.config.Retention); err != nil {
		return nil, errors.NewExternalServiceError("redis", err)
	}

	s.logger.Info("mutation staged", map[string]interface{}{
		"mutationId": req.ID,
		"actionId":   req.ActionID,
		"tenantId":   scope.TenantID,
		"actorId":    scope.ActorID,
		"expiresAt":  req.ExpiresAt,
	})

	return &PendingConfirmation{
		Token:      req.Token,
		MutationID: req.ID,
		ActionID:   req.ActionID,
		State:      req.State,
		HighRisk:   def.HighRisk,
		ExpiresAt:  req.ExpiresAt,
	}, nil
}

// Confirm commits a staged mutation. Only the actor who staged it, in the
// same tenant, may confirm, and only once.
func (s *Service) Confirm(ctx context.Context, token string, scope models.TenantScope) (*models.CommitResult, error) {
	req, err := s.loadOwned(ctx, token, scope)
	if err != nil {
		return nil, err
	}

	switch req.State {
	case models.StatePendingConfirmation:
	case models.StateRejected:
		return nil, errors.NewBusinessRuleError("Mutation was rejected", req.Failure)
	default:
		return nil, errors.NewConfirmationClaimedError(req.ID)
	}

	if req.Expired(s.now()) {
		_ = req.Transition(models.StateRejected)
		req.Failure = "confirmation window elapsed"
		if err := s.pending.Update(ctx, req); err != nil {
			s.logger.Warn("expired mutation not updated", map[string]interface{}{"mutationId": req.ID, "error": err.Error()})
		}
		metrics.PendingExpired.Inc()
		return nil, errors.NewConfirmationExpiredError(req.ID)
	}

	def, ok := s.registry.Get(req.ActionID)
	if !ok {
		return nil, errors.NewUnknownActionError(req.ActionID)
	}
	if !def.Allows(scope.Role) {
		return nil, errors.NewRoleNotAllowedError(def.ID, string(scope.Role))
	}

	claimed, err := s.pending.Claim(ctx, token, s.config.ConfirmationWindow+s.config.Retention)
	if err != nil {
		return nil, errors.NewExternalServiceError("redis", err)
	}
	if !claimed {
		return nil, errors.NewConfirmationClaimedError(req.ID)
	}

	if err := req.Transition(models.StateConfirmed); err != nil {
		return nil, errors.NewInternalError(err)
	}
	if err := s.pending.Update(ctx, req); err != nil {
		s.logger.Warn("confirmed state not stored", map[string]interface{}{"mutationId": req.ID, "error": err.Error()})
	}

	result, commitErr := s.committer.Commit(ctx, req)
	if err := s.pending.Update(ctx, req); err != nil {
		s.logger.Warn("final state not stored", map[string]interface{}{"mutationId": req.ID, "error": err.Error()})
	}
	if commitErr != nil {
		return nil, commitErr
	}
	return result, nil
}

// Cancel abandons a staged mutation. It takes the same slot as Confirm, so
// exactly one of them wins. The request stays readable as REJECTED until
// its retention runs out.
func (s *Service) Cancel(ctx context.Context, token string, scope models.TenantScope) error {
	req, err := s.loadOwned(ctx, token, scope)
	if err != nil {
		return err
	}
	if req.State != models.StatePendingConfirmation {
		return errors.NewConfirmationClaimedError(req.ID)
	}

	claimed, err := s.pending.Claim(ctx, token, s.config.ConfirmationWindow+s.config.Retention)
	if err != nil {
		return errors.NewExternalServiceError("redis", err)
	}
	if !claimed {
		return errors.NewConfirmationClaimedError(req.ID)
	}

	if err := req.Transition(models.StateRejected); err != nil {
		return errors.NewInternalError(err)
	}
	req.Failure = "cancelled by requester"
	if err := s.pending.Update(ctx, req); err != nil && !stderrors.Is(err, ErrPendingNotFound) {
		return errors.NewExternalServiceError("redis", err)
	}

	s.logger.Info("mutation cancelled", map[string]interface{}{
		"mutationId": req.ID,
		"actionId":   req.ActionID,
		"tenantId":   scope.TenantID,
	})
	return nil
}

func (s *Service) loadOwned(ctx context.Context, token string, scope models.TenantScope) (*models.MutationRequest, error) {
	if err := scope.Validate(); err != nil {
		return nil, errors.NewAccessDeniedError(err.Error())
	}
	req, err := s.pending.Load(ctx, token)
	if stderrors.Is(err, ErrPendingNotFound) {
		return nil, errors.NewBusinessRuleError("Confirmation token is unknown or has expired", "")
	}
	if err != nil {
		return nil, errors.NewExternalServiceError("redis", err)
	}
	if req.Scope.TenantID != scope.TenantID {
		return nil, errors.NewTenantMismatchError()
	}
	if req.Scope.ActorID != scope.ActorID {
		return nil, errors.NewAccessDeniedError("mutation was staged by another actor")
	}
	return req, nil
}
