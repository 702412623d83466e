// Package lane assigns a query to the deterministic, fallback or blocked
// lane. Route is a pure function of its arguments and the immutable
// action catalog.
package lane

import (
	"fmt"

	"maritime-query-engine/internal/models"
)

// Config holds the lane thresholds. It is immutable once the router is built.
type Config struct {
	MinWords               int
	DeterministicThreshold float64
	FallbackFloor          float64
	HighWeight             float64
}

func DefaultConfig() Config {
	return Config{
		MinWords:               2,
		DeterministicThreshold: 0.85,
		FallbackFloor:          0.40,
		HighWeight:             0.80,
	}
}

func (c Config) Validate() error {
	if c.MinWords < 0 {
		return fmt.Errorf("min_words must not be negative")
	}
	if c.FallbackFloor <= 0 || c.FallbackFloor >= c.DeterministicThreshold || c.DeterministicThreshold > 1 {
		return fmt.Errorf("thresholds must satisfy 0 < fallback_floor < deterministic_threshold <= 1")
	}
	if c.HighWeight <= 0 || c.HighWeight > 1 {
		return fmt.Errorf("high_weight must be in (0,1]")
	}
	return nil
}

// Catalog is the read-only view of the action registry the router needs.
type Catalog interface {
	Get(id string) (*models.ActionDefinition, bool)
	Position(id string) int
}

type Router struct {
	cfg     Config
	catalog Catalog
}

func NewRouter(cfg Config, catalog Catalog) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, fmt.Errorf("action catalog is required")
	}
	return &Router{cfg: cfg, catalog: catalog}, nil
}

func (r *Router) Config() Config {
	return r.cfg
}

// Blocked builds a blocked decision for a verdict reached outside Route,
// such as the input screen.
func Blocked(reason models.Reason) models.RoutingDecision {
	return models.RoutingDecision{Lane: models.LaneBlocked, Reason: reason}
}

// Route decides the lane for a classified and extracted query.
func (r *Router) Route(intent models.QueryIntent, entities []models.Entity, wordCount int) models.RoutingDecision {
	short := wordCount <= r.cfg.MinWords
	if short && !r.hasHighWeight(entities) {
		return Blocked(models.ReasonTooVague)
	}

	var decision models.RoutingDecision
	best := models.BestScore(entities)

	if intent.Intent == models.IntentAction {
		id, strength, ok := r.pickAction(intent.Candidates, entities)
		if !ok {
			return Blocked(models.ReasonNoActionMatch)
		}
		decision.ActionID = id
		decision.Reason = models.ReasonActionMatch
		if len(entities) > 0 {
			decision.Confidence = 0.5*strength + 0.5*best
		} else {
			decision.Confidence = 0.8 * strength
		}
	} else if len(entities) == 0 {
		decision.Reason = models.ReasonUnresolvedInformation
		decision.Confidence = 0.5
	} else {
		decision.Reason = models.ReasonEntityMatch
		decision.Confidence = best
	}

	switch {
	case decision.Confidence >= r.cfg.DeterministicThreshold:
		decision.Lane = models.LaneDeterministic
	case decision.Confidence >= r.cfg.FallbackFloor:
		decision.Lane = models.LaneFallback
	default:
		decision.Lane = models.LaneBlocked
		decision.Reason = models.ReasonLowConfidence
		return decision
	}

	if short {
		decision.Reason = models.ReasonShortQueryPromoted
	}
	return decision
}

func (r *Router) hasHighWeight(entities []models.Entity) bool {
	for _, e := range entities {
		if e.CanonicalWeight >= r.cfg.HighWeight {
			return true
		}
	}
	return false
}

// pickAction returns the strongest registered candidate. Equal strengths
// are broken by fewer unresolved required fields, then registry order.
func (r *Router) pickAction(candidates []models.ActionCandidate, entities []models.Entity) (string, float64, bool) {
	var (
		bestID         string
		bestStrength   float64
		bestUnresolved int
		bestPos        int
		found          bool
	)
	for _, c := range candidates {
		def, ok := r.catalog.Get(c.ActionID)
		if !ok {
			continue
		}
		unresolved := def.UnresolvedFields(entities)
		pos := r.catalog.Position(c.ActionID)

		better := !found ||
			c.Strength > bestStrength ||
			(c.Strength == bestStrength && unresolved < bestUnresolved) ||
			(c.Strength == bestStrength && unresolved == bestUnresolved && pos < bestPos)
		if better {
			bestID, bestStrength, bestUnresolved, bestPos, found = c.ActionID, c.Strength, unresolved, pos, true
		}
	}
	return bestID, bestStrength, found
}
