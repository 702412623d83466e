// Package engine runs the query pipeline: screen, extract and classify,
// route to a lane, then search or stage an action.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"maritime-query-engine/internal/actions"
	"maritime-query-engine/internal/commit"
	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/common/observability"
	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/query/extract"
	"maritime-query-engine/internal/query/intent"
	"maritime-query-engine/internal/query/lane"
	"maritime-query-engine/internal/security"

	"go.opentelemetry.io/otel/attribute"
)

// No-result reasons returned by the search surface.
const (
	NoResultActionIntent = "action_intent"
	NoResultNoEntities   = "no_entities"
	NoResultNoMatches    = "no_matches"
)

// Searcher is the part of the search router the engine uses.
type Searcher interface {
	SearchAll(ctx context.Context, scope models.TenantScope, entities []models.Entity) (models.GroupedResults, error)
	ExactID(ctx context.Context, scope models.TenantScope, entity models.Entity, table string) (string, bool, error)
}

// ActionRunner stages or runs a gated action.
type ActionRunner interface {
	Registry() *actions.Registry
	Execute(ctx context.Context, actionID string, scope models.TenantScope, payload map[string]interface{}) (*actions.ExecuteResult, error)
}

// FallbackInterpreter takes queries the rule tables routed with only
// moderate confidence. It sees the analysis and the caller's scope, never
// the stores. Whatever it proposes must come back through the gate.
type FallbackInterpreter interface {
	Interpret(ctx context.Context, scope models.TenantScope, text string, a *Analysis) (*Interpretation, error)
}

// InterpretationNeedsClarification asks the caller to rephrase.
const InterpretationNeedsClarification = "needs_clarification"

// Interpretation is a fallback interpreter's answer.
type Interpretation struct {
	Status             string   `json:"status"`
	Message            string   `json:"message,omitempty"`
	CandidateActions   []string `json:"candidate_actions,omitempty"`
	RecognizedEntities []string `json:"recognized_entities,omitempty"`
}

// ClarifyingFallback is used when no external interpreter is configured.
// It runs nothing and echoes back what the rules recognised.
type ClarifyingFallback struct{}

func (ClarifyingFallback) Interpret(_ context.Context, _ models.TenantScope, _ string, a *Analysis) (*Interpretation, error) {
	out := &Interpretation{
		Status:  InterpretationNeedsClarification,
		Message: "The query could not be interpreted with enough confidence. Name the equipment, part or action and try again.",
	}
	for _, c := range a.Intent.Candidates {
		out.CandidateActions = append(out.CandidateActions, c.ActionID)
	}
	for _, e := range a.Entities {
		out.RecognizedEntities = append(out.RecognizedEntities, e.CanonicalLabel)
	}
	return out, nil
}

// idTables is where an *_id payload field for an entity type is resolved.
var idTables = map[models.EntityType]string{
	models.EntityEquipment: "equipment",
	models.EntityPart:      "parts",
	models.EntityFault:     "faults",
	models.EntityDocument:  "documents",
}

type Engine struct {
	screener   *security.Screener
	extractor  *extract.Extractor
	classifier *intent.Classifier
	lanes      *lane.Router
	search     Searcher
	actions    ActionRunner
	fallback   FallbackInterpreter
	obs        *observability.Observability
	logger     logger.Logger
}

// New wires the pipeline and checks that the rule tables agree with the
// action registry: every action a classifier rule can propose must exist,
// and every mutate action must have a commit writer. A nil fallback selects
// ClarifyingFallback.
func New(screener *security.Screener, extractor *extract.Extractor, classifier *intent.Classifier, lanes *lane.Router,
	search Searcher, runner ActionRunner, fallback FallbackInterpreter, obs *observability.Observability, log logger.Logger) (*Engine, error) {
	registry := runner.Registry()

	var problems []string
	for _, id := range classifier.Actions() {
		if _, ok := registry.Get(id); !ok {
			problems = append(problems, fmt.Sprintf("intent rules reference unknown action %q", id))
		}
	}
	for _, id := range registry.IDs() {
		def, _ := registry.Get(id)
		if def.Kind == models.ActionMutate && !commit.Supports(id) {
			problems = append(problems, fmt.Sprintf("mutate action %q has no commit writer", id))
		}
		for field, src := range def.Prefill {
			if src == models.PrefillQueryText {
				continue
			}
			if t, ok := models.PrefillEntityType(src); !ok || !t.Valid() {
				problems = append(problems, fmt.Sprintf("action %q field %q has invalid prefill %q", id, field, src))
			}
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("engine configuration is inconsistent:\n  %s", strings.Join(problems, "\n  "))
	}

	if obs == nil {
		obs = observability.NewNoop()
	}
	if fallback == nil {
		fallback = ClarifyingFallback{}
	}
	return &Engine{
		screener:   screener,
		extractor:  extractor,
		classifier: classifier,
		lanes:      lanes,
		search:     search,
		actions:    runner,
		fallback:   fallback,
		obs:        obs,
		logger:     log.WithFields(map[string]interface{}{"component": "engine"}),
	}, nil
}

// Analysis is everything derived from the query text alone.
type Analysis struct {
	Normalized string                 `json:"normalized"`
	WordCount  int                    `json:"word_count"`
	Verdict    security.Verdict       `json:"screen"`
	Intent     models.QueryIntent     `json:"intent"`
	Entities   []models.Entity        `json:"entities"`
	Decision   models.RoutingDecision `json:"decision"`
}

// Outcome is the result of a pipeline run. Results is set on the
// information lane, Action on the action lane, Fallback on the fallback
// lane. NoResult explains an empty information answer.
type Outcome struct {
	Analysis *Analysis              `json:"analysis"`
	Results  models.GroupedResults  `json:"results,omitempty"`
	Action   *actions.ExecuteResult `json:"action,omitempty"`
	Fallback *Interpretation        `json:"fallback,omitempty"`
	NoResult string                 `json:"no_result,omitempty"`
}

// Analyze screens, extracts, classifies and routes. It touches no storage
// and never fails.
func (e *Engine) Analyze(ctx context.Context, text string) *Analysis {
	start := time.Now()
	_, span := e.obs.StartSpan(ctx, "engine.analyze")
	defer span.End()

	a := &Analysis{Entities: []models.Entity{}}
	a.Verdict = e.screener.Screen(text)
	if a.Verdict.Blocked {
		a.Decision = lane.Blocked(a.Verdict.Reason)
		e.recordRoute(ctx, a, start)
		return a
	}

	extracted := e.extractor.Extract(text)
	a.Normalized = extracted.Normalized
	a.WordCount = extracted.WordCount()
	if extracted.Entities != nil {
		a.Entities = extracted.Entities
	}
	a.Intent = e.classifier.Classify(text)
	a.Decision = e.lanes.Route(a.Intent, a.Entities, a.WordCount)

	span.SetAttributes(
		attribute.String("lane", string(a.Decision.Lane)),
		attribute.String("intent", string(a.Intent.Intent)),
		attribute.Int("entities", len(a.Entities)),
	)
	e.recordRoute(ctx, a, start)
	return a
}

func (e *Engine) recordRoute(ctx context.Context, a *Analysis, start time.Time) {
	metrics.QueriesRouted.WithLabelValues(string(a.Decision.Lane), string(a.Intent.Intent), string(a.Decision.Reason)).Inc()
	e.obs.RecordStage(ctx, "analyze", string(a.Decision.Lane), time.Since(start))
}

// blockedError maps a blocked decision onto the error taxonomy.
func blockedError(d models.RoutingDecision) error {
	if d.FailureKind() == string(errors.KindNoMatch) {
		return errors.NewNoMatchError("no registered action matches the query")
	}
	return errors.NewBlockedError(string(d.Reason), "query was not routed")
}

// Search answers an information query. Action-intent text never reaches
// the action gate from here; it yields a no-result answer.
func (e *Engine) Search(ctx context.Context, scope models.TenantScope, text string) (*Outcome, error) {
	if err := scope.Validate(); err != nil {
		return nil, errors.NewAccessDeniedError(err.Error())
	}
	a := e.Analyze(ctx, text)
	if a.Verdict.Blocked {
		return nil, blockedError(a.Decision)
	}
	if a.Intent.Intent == models.IntentAction {
		return &Outcome{Analysis: a, NoResult: NoResultActionIntent}, nil
	}
	if a.Decision.Blocked() {
		return nil, blockedError(a.Decision)
	}
	if a.Decision.Lane == models.LaneFallback {
		return e.interpret(ctx, scope, text, a)
	}
	return e.searchEntities(ctx, scope, a)
}

// Query runs the full pipeline. On the action lane a mutate action is only
// staged and comes back pending confirmation.
func (e *Engine) Query(ctx context.Context, scope models.TenantScope, text string) (*Outcome, error) {
	if err := scope.Validate(); err != nil {
		return nil, errors.NewAccessDeniedError(err.Error())
	}
	a := e.Analyze(ctx, text)
	if a.Decision.Blocked() {
		return nil, blockedError(a.Decision)
	}
	if a.Decision.Lane == models.LaneFallback {
		return e.interpret(ctx, scope, text, a)
	}
	if a.Intent.Intent != models.IntentAction {
		return e.searchEntities(ctx, scope, a)
	}

	start := time.Now()
	ctx, span := e.obs.StartSpan(ctx, "engine.action", attribute.String("action", a.Decision.ActionID))
	defer span.End()

	def, ok := e.actions.Registry().Get(a.Decision.ActionID)
	if !ok {
		return nil, errors.NewUnknownActionError(a.Decision.ActionID)
	}
	payload, err := e.prefill(ctx, scope, def, text, a.Entities)
	if err != nil {
		e.obs.RecordStage(ctx, "action", "error", time.Since(start))
		return nil, err
	}

	res, err := e.actions.Execute(ctx, def.ID, scope, payload)
	if err != nil {
		e.obs.RecordStage(ctx, "action", "error", time.Since(start))
		return nil, err
	}
	e.obs.RecordStage(ctx, "action", "ok", time.Since(start))
	return &Outcome{Analysis: a, Action: res}, nil
}

// interpret hands a fallback-lane query to the fallback interpreter. The
// core neither searches nor stages anything for it.
func (e *Engine) interpret(ctx context.Context, scope models.TenantScope, text string, a *Analysis) (*Outcome, error) {
	start := time.Now()
	ctx, span := e.obs.StartSpan(ctx, "engine.fallback")
	defer span.End()

	interp, err := e.fallback.Interpret(ctx, scope, text, a)
	if err != nil {
		e.obs.RecordStage(ctx, "fallback", "error", time.Since(start))
		return nil, err
	}
	if interp == nil {
		interp = &Interpretation{Status: InterpretationNeedsClarification}
	}
	e.obs.RecordStage(ctx, "fallback", interp.Status, time.Since(start))
	return &Outcome{Analysis: a, Fallback: interp}, nil
}

func (e *Engine) searchEntities(ctx context.Context, scope models.TenantScope, a *Analysis) (*Outcome, error) {
	if len(a.Entities) == 0 {
		return &Outcome{Analysis: a, NoResult: NoResultNoEntities}, nil
	}

	start := time.Now()
	ctx, span := e.obs.StartSpan(ctx, "engine.search")
	defer span.End()

	grouped, err := e.search.SearchAll(ctx, scope, a.Entities)
	if err != nil {
		e.obs.RecordStage(ctx, "search", "error", time.Since(start))
		return nil, err
	}
	e.obs.RecordStage(ctx, "search", "ok", time.Since(start))

	out := &Outcome{Analysis: a, Results: grouped}
	if grouped.Total() == 0 {
		out.NoResult = NoResultNoMatches
	}
	return out, nil
}

// prefill builds an action payload from the query. Identifier fields are
// resolved to row ids through an exact lookup in the caller's tenant; a
// field that can't be resolved is left out so the gate reports it missing.
func (e *Engine) prefill(ctx context.Context, scope models.TenantScope, def *models.ActionDefinition, text string, entities []models.Entity) (map[string]interface{}, error) {
	payload := make(map[string]interface{})

	fields := make([]string, 0, len(def.Prefill))
	for f := range def.Prefill {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		src := def.Prefill[field]
		if src == models.PrefillQueryText {
			payload[field] = strings.TrimSpace(text)
			continue
		}
		t, ok := models.PrefillEntityType(src)
		if !ok {
			continue
		}
		entity, ok := models.FirstOfType(entities, t)
		if !ok {
			continue
		}
		if !strings.HasSuffix(field, "_id") {
			payload[field] = entity.CanonicalLabel
			continue
		}
		table, ok := idTables[t]
		if !ok {
			continue
		}
		id, found, err := e.search.ExactID(ctx, scope, entity, table)
		if err != nil {
			return nil, err
		}
		if !found {
			e.logger.Debug("Prefill identifier not resolved", map[string]interface{}{
				"action": def.ID,
				"field":  field,
				"label":  entity.CanonicalLabel,
			})
			continue
		}
		payload[field] = id
	}
	return payload, nil
}
