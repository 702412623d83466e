package searchentities

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"maritime-query-engine/internal/common/camunda"
	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/engine"
	"maritime-query-engine/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType   = "query.search-entities"
	WorkerName = "search-entities"
)

// Searcher runs the read-only information path for a tenant.
type Searcher interface {
	Search(ctx context.Context, scope models.TenantScope, text string) (*engine.Outcome, error)
}

type Handler struct {
	config   *Config
	searcher Searcher
	errors   *errors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, searcher Searcher, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		searcher: searcher,
		errors:   errors.NewErrorHandler(log),
		logger:   log,
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
	if strings.TrimSpace(input.Query) == "" {
		return nil, errors.NewBadRequestError("query is required")
	}
	scope := models.TenantScope{
		TenantID: input.TenantID,
		ActorID:  input.ActorID,
		Role:     models.Role(input.Role),
	}

	outcome, err := h.searcher.Search(ctx, scope, input.Query)
	if err != nil {
		return nil, err
	}

	output := &Output{Entities: outcome.Analysis.Entities}
	switch {
	case outcome.Fallback != nil:
		output.Status = StatusFallback
		output.Reason = outcome.Fallback.Status
		output.Fallback = outcome.Fallback
	case outcome.NoResult != "":
		output.Status = StatusNoResult
		output.Reason = outcome.NoResult
	default:
		output.Status = StatusOK
		output.Results = outcome.Results
		output.Total = outcome.Results.Total()
	}

	h.logger.Info("search finished", map[string]interface{}{
		"tenantId": scope.TenantID,
		"status":   output.Status,
		"total":    output.Total,
	})
	return output, nil
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
