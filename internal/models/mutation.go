package models

import (
	"fmt"
	"time"
)

// MutationState is the lifecycle of a MutationRequest.
type MutationState string

const (
	StateDraft               MutationState = "DRAFT"
	StatePendingConfirmation MutationState = "PENDING_CONFIRMATION"
	StateConfirmed           MutationState = "CONFIRMED"
	StateCommitted           MutationState = "COMMITTED"
	StateRolledBack          MutationState = "ROLLED_BACK"
	StateRejected            MutationState = "REJECTED"
)

var transitions = map[MutationState][]MutationState{
	StateDraft:               {StatePendingConfirmation, StateRejected},
	StatePendingConfirmation: {StateConfirmed, StateRejected},
	StateConfirmed:           {StateCommitted, StateRolledBack, StateRejected},
}

// Terminal reports whether no further transition is possible.
func (s MutationState) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack || s == StateRejected
}

// MutationRequest is a gated write waiting for, or past, confirmation.
type MutationRequest struct {
	ID            string                 `json:"id"`
	Token         string                 `json:"token"`
	ActionID      string                 `json:"action_id"`
	Scope         TenantScope            `json:"scope"`
	Payload       map[string]interface{} `json:"payload"`
	TargetID      string                 `json:"target_id,omitempty"`
	TargetVersion int64                  `json:"target_version,omitempty"`
	State         MutationState          `json:"state"`
	CreatedAt     time.Time              `json:"created_at"`
	ExpiresAt     time.Time              `json:"expires_at"`
	Failure       string                 `json:"failure,omitempty"`
}

// Transition moves the request to next or returns an error if the edge is
// not part of the lifecycle.
func (m *MutationRequest) Transition(next MutationState) error {
	for _, allowed := range transitions[m.State] {
		if allowed == next {
			m.State = next
			return nil
		}
	}
	return fmt.Errorf("illegal mutation transition %s -> %s", m.State, next)
}

// Expired reports whether a pending request has outlived its window.
func (m *MutationRequest) Expired(now time.Time) bool {
	return m.State == StatePendingConfirmation && !now.Before(m.ExpiresAt)
}

// CommitResult is returned once a mutation reaches COMMITTED.
type CommitResult struct {
	MutationID    string        `json:"mutation_id"`
	State         MutationState `json:"state"`
	EntityID      string        `json:"entity_id"`
	LedgerEventID string        `json:"ledger_event_id"`
	AuditRecordID string        `json:"audit_record_id,omitempty"`
	CommittedAt   time.Time     `json:"committed_at"`
}

// LedgerEntry is an append-only timeline record.
type LedgerEntry struct {
	ID         string                 `json:"id" db:"id"`
	TenantID   string                 `json:"tenant_id" db:"tenant_id"`
	MutationID string                 `json:"mutation_id" db:"mutation_id"`
	ActionID   string                 `json:"action_id" db:"action_id"`
	EntityType string                 `json:"entity_type" db:"entity_type"`
	EntityID   string                 `json:"entity_id" db:"entity_id"`
	ActorID    string                 `json:"actor_id" db:"actor_id"`
	Summary    map[string]interface{} `json:"summary" db:"summary"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// AuditRecord is the immutable compliance record of a high-risk commit.
type AuditRecord struct {
	ID          string                 `json:"id" db:"id"`
	TenantID    string                 `json:"tenant_id" db:"tenant_id"`
	MutationID  string                 `json:"mutation_id" db:"mutation_id"`
	ActionID    string                 `json:"action_id" db:"action_id"`
	EntityType  string                 `json:"entity_type" db:"entity_type"`
	EntityID    string                 `json:"entity_id" db:"entity_id"`
	ActorID     string                 `json:"actor_id" db:"actor_id"`
	ActorRole   string                 `json:"actor_role" db:"actor_role"`
	Before      map[string]interface{} `json:"before,omitempty" db:"before_state"`
	After       map[string]interface{} `json:"after" db:"after_state"`
	PayloadHash string                 `json:"payload_hash" db:"payload_hash"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}

// AuditTrail is what the audit surface returns for one entity.
type AuditTrail struct {
	EntityID string        `json:"entity_id"`
	Ledger   []LedgerEntry `json:"ledger"`
	Audit    []AuditRecord `json:"audit"`
}
