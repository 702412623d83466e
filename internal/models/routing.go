package models

// IntentKind is the binary query intent.
type IntentKind string

const (
	IntentInformation IntentKind = "information"
	IntentAction      IntentKind = "action"
)

// ActionCandidate is an action id proposed by a classifier rule, with the
// fixed strength of the rule that proposed it.
type ActionCandidate struct {
	ActionID string  `json:"action_id"`
	Strength float64 `json:"strength"`
}

// QueryIntent is derived from the query text alone.
type QueryIntent struct {
	Intent     IntentKind        `json:"intent"`
	ActionHint string            `json:"action_hint,omitempty"`
	Candidates []ActionCandidate `json:"candidates,omitempty"`
}

// Lane is the routing tier assigned before execution.
type Lane string

const (
	LaneDeterministic Lane = "deterministic"
	LaneFallback      Lane = "fallback"
	LaneBlocked       Lane = "blocked"
)

// Reason explains a RoutingDecision.
type Reason string

const (
	ReasonTooVague              Reason = "too_vague"
	ReasonLowConfidence         Reason = "low_confidence"
	ReasonInjectionShaped       Reason = "injection_shaped"
	ReasonAbusive               Reason = "abusive"
	ReasonNoActionMatch         Reason = "no_action_match"
	ReasonEntityMatch           Reason = "entity_match"
	ReasonActionMatch           Reason = "action_match"
	ReasonShortQueryPromoted    Reason = "short_query_promoted"
	ReasonUnresolvedInformation Reason = "unresolved_information"
)

// RoutingDecision is the lane router output.
type RoutingDecision struct {
	Lane       Lane    `json:"lane"`
	Confidence float64 `json:"confidence"`
	Reason     Reason  `json:"reason"`
	ActionID   string  `json:"action_id,omitempty"`
}

// Blocked reports whether the query must not proceed.
func (d RoutingDecision) Blocked() bool {
	return d.Lane == LaneBlocked
}

// FailureKind maps a blocked decision onto the error taxonomy. Decisions
// that are not blocked return the empty string.
func (d RoutingDecision) FailureKind() string {
	if !d.Blocked() {
		return ""
	}
	if d.Reason == ReasonNoActionMatch {
		return "no_match"
	}
	return "blocked"
}
