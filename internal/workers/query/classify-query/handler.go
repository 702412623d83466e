package classifyquery

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

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType   = "query.classify"
	WorkerName = "classify-query"
)

// Analyzer screens, classifies and routes query text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) *engine.Analysis
}

type Handler struct {
	config   *Config
	analyzer Analyzer
	errors   *errors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, analyzer Analyzer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		analyzer: analyzer,
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

// execute never fails on a blocked query: the verdict is data the process
// branches on.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, errors.NewBadRequestError("query is required")
	}

	a := h.analyzer.Analyze(ctx, input.Query)
	output := &Output{
		Blocked:        a.Decision.Blocked(),
		ScreenCategory: a.Verdict.Category,
		Intent:         string(a.Intent.Intent),
		Lane:           string(a.Decision.Lane),
		Reason:         string(a.Decision.Reason),
		Confidence:     a.Decision.Confidence,
		ActionID:       a.Decision.ActionID,
		WordCount:      a.WordCount,
		Entities:       a.Entities,
	}

	h.logger.Info("query classified", map[string]interface{}{
		"lane":        output.Lane,
		"reason":      output.Reason,
		"actionId":    output.ActionID,
		"entityCount": len(output.Entities),
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

	_, err = camunda.Retry(ctx, camunda.DefaultRetryConfig, func(ctx context.Context) (interface{}, error) {
		return cmd.Send(ctx)
	}, "complete-job")
	if err != nil {
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
