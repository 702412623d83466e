package classifyquery

import "maritime-query-engine/internal/models"

type Input struct {
	Query string `json:"query"`
}

// Output is written back to the process as job variables.
type Output struct {
	Blocked        bool            `json:"blocked"`
	ScreenCategory string          `json:"screenCategory,omitempty"`
	Intent         string          `json:"intent"`
	Lane           string          `json:"lane"`
	Reason         string          `json:"reason"`
	Confidence     float64         `json:"confidence"`
	ActionID       string          `json:"actionId,omitempty"`
	WordCount      int             `json:"wordCount"`
	Entities       []models.Entity `json:"entities"`
}
