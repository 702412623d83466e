package commitmutation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"maritime-query-engine/internal/common/camunda"
	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType   = "actions.commit-mutation"
	WorkerName = "commit-mutation"
)

// Confirmer resolves a staged mutation.
type Confirmer interface {
	Confirm(ctx context.Context, token string, scope models.TenantScope) (*models.CommitResult, error)
	Cancel(ctx context.Context, token string, scope models.TenantScope) error
}

type Handler struct {
	config    *Config
	confirmer Confirmer
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, confirmer Confirmer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		confirmer: confirmer,
		errors:    errors.NewErrorHandler(log),
		logger:    log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(ctx, client, job, errors.NewBadRequestError("parse input: "+err.Error()))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if err := h.validateInput(input); err != nil {
		return nil, err
	}
	scope := models.TenantScope{
		TenantID: input.TenantID,
		ActorID:  input.ActorID,
		Role:     models.Role(input.Role),
	}

	if input.Decision == DecisionCancel {
		if err := h.confirmer.Cancel(ctx, input.ConfirmationToken, scope); err != nil {
			return nil, err
		}
		h.logger.Info("staged mutation cancelled", map[string]interface{}{"tenantId": scope.TenantID})
		return &Output{State: string(models.StateRejected)}, nil
	}

	result, err := h.confirmer.Confirm(ctx, input.ConfirmationToken, scope)
	if err != nil {
		return nil, err
	}

	h.logger.Info("mutation committed", map[string]interface{}{
		"mutationId": result.MutationID,
		"entityId":   result.EntityID,
		"tenantId":   scope.TenantID,
	})

	committedAt := result.CommittedAt
	return &Output{
		MutationID:    result.MutationID,
		State:         string(result.State),
		EntityID:      result.EntityID,
		LedgerEventID: result.LedgerEventID,
		AuditRecordID: result.AuditRecordID,
		CommittedAt:   &committedAt,
	}, nil
}

func (h *Handler) validateInput(input *Input) error {
	if strings.TrimSpace(input.ConfirmationToken) == "" {
		return errors.NewBadRequestError("confirmationToken is required")
	}
	if input.Decision == "" {
		input.Decision = DecisionConfirm
	}
	if input.Decision != DecisionConfirm && input.Decision != DecisionCancel {
		return errors.NewBadRequestError("decision must be confirm or cancel")
	}
	return nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	// The commit already happened; only the acknowledgement is retried.
	if _, err := camunda.Retry(ctx, camunda.DefaultRetryConfig, func(ctx context.Context) (interface{}, error) {
		return cmd.Send(ctx)
	}, "complete-job"); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, mapErrorToCode(err)).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

func mapErrorToCode(err error) string {
	return string(errors.AsStandard(err).Code)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
