package commitmutation

import "time"

const (
	DecisionConfirm = "confirm"
	DecisionCancel  = "cancel"
)

// Input carries the user task's decision on a staged mutation.
type Input struct {
	ConfirmationToken string `json:"confirmationToken"`
	Decision          string `json:"decision"`
	TenantID          string `json:"tenantId"`
	ActorID           string `json:"actorId"`
	Role              string `json:"role"`
}

type Output struct {
	MutationID    string     `json:"mutationId,omitempty"`
	State         string     `json:"state"`
	EntityID      string     `json:"entityId,omitempty"`
	LedgerEventID string     `json:"ledgerEventId,omitempty"`
	AuditRecordID string     `json:"auditRecordId,omitempty"`
	CommittedAt   *time.Time `json:"committedAt,omitempty"`
}
