package amqp

import (
	"encoding/json"
	"time"

	"buildledger/internal/core"
)

// ApprovalAction is the decision carried by an event.
type ApprovalAction string

const (
	ActionApproved ApprovalAction = "approved"
	ActionRejected ApprovalAction = "rejected"
)

// ApprovalEvent is published whenever a proposal is finalized. It is a
// thin notification: consumers fetch the full record from the database
// so a stale event can never overwrite fresher state.
type ApprovalEvent struct {
	Kind        core.ProposalKind `json:"kind"`
	RecordID    int64             `json:"recordId"`
	ProjectID   int64             `json:"projectId"`
	CompanyID   int64             `json:"companyId"`
	Action      ApprovalAction    `json:"action"`
	AmountCents int64             `json:"amountCents"`
	Currency    core.Currency     `json:"currency"`
	ActorID     int64             `json:"actorId"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewApprovalEvent stamps the event with the current time.
func NewApprovalEvent(kind core.ProposalKind, recordID, projectID, companyID, actorID int64, action ApprovalAction, amount core.Money) *ApprovalEvent {
	return &ApprovalEvent{
		Kind:        kind,
		RecordID:    recordID,
		ProjectID:   projectID,
		CompanyID:   companyID,
		Action:      action,
		AmountCents: amount.Cents,
		Currency:    amount.Currency,
		ActorID:     actorID,
		Timestamp:   time.Now().UTC(),
	}
}

func (e *ApprovalEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func ApprovalEventFromJSON(data []byte) (*ApprovalEvent, error) {
	var e ApprovalEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
