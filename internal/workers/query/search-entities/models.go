package searchentities

import (
	"maritime-query-engine/internal/engine"
	"maritime-query-engine/internal/models"
)

type Input struct {
	Query    string `json:"query"`
	TenantID string `json:"tenantId"`
	ActorID  string `json:"actorId"`
	Role     string `json:"role"`
}

type Output struct {
	Status   string                `json:"status"`
	Reason   string                `json:"reason,omitempty"`
	Results  models.GroupedResults `json:"results,omitempty"`
	Total    int                   `json:"total"`
	Entities []models.Entity       `json:"entities"`
	// Fallback is set when the query went to the fallback interpreter; the
	// process decides whether to ask the user to rephrase.
	Fallback *engine.Interpretation `json:"fallback,omitempty"`
}

const (
	StatusOK       = "ok"
	StatusNoResult = "no_result"
	StatusFallback = "fallback"
)
