package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageType string

const (
	MsgBurnoutAlert        MessageType = "BurnoutAlert"
	MsgPlanRevision        MessageType = "PlanRevision"
	MsgInterventionOffer   MessageType = "InterventionOffer"
	MsgInterventionOutcome MessageType = "InterventionOutcome"
	MsgSessionClosed       MessageType = "SessionClosed"
)

// AllMessageTypes is the closed set of inter-agent message types.
var AllMessageTypes = []MessageType{
	MsgBurnoutAlert,
	MsgPlanRevision,
	MsgInterventionOffer,
	MsgInterventionOutcome,
	MsgSessionClosed,
}

// Role names the agent that published a message.
type Role string

const (
	RoleSentinel  Role = "sentinel"
	RolePlanner   Role = "planner"
	RoleCoach     Role = "coach"
	RoleEvaluator Role = "evaluator"
	RoleSession   Role = "session"
)

// Message is the unit of agent-to-agent communication. Messages are
// immutable once published; payloads are value types and any slices they
// carry are private copies.
type Message struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	Sender        Role        `json:"sender"`
	SessionID     string      `json:"session_id"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Payload       any         `json:"payload"`
}

// UnmarshalJSON decodes the payload into the struct its Type names, so
// records read back from storage carry the same payload types that were
// published.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var raw struct {
		plain
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.plain)
	m.Payload = nil

	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		return nil
	}
	payload, err := decodePayload(m.Type, raw.Payload)
	if err != nil {
		return fmt.Errorf("message %s: %w", m.ID, err)
	}
	m.Payload = payload
	return nil
}

func decodePayload(t MessageType, data json.RawMessage) (any, error) {
	switch t {
	case MsgBurnoutAlert:
		var p BurnoutAlert
		err := json.Unmarshal(data, &p)
		return p, err
	case MsgPlanRevision:
		var p PlanRevision
		err := json.Unmarshal(data, &p)
		return p, err
	case MsgInterventionOffer:
		var p InterventionOffer
		err := json.Unmarshal(data, &p)
		return p, err
	case MsgInterventionOutcome:
		var p InterventionOutcome
		err := json.Unmarshal(data, &p)
		return p, err
	case MsgSessionClosed:
		var p SessionClosed
		err := json.Unmarshal(data, &p)
		return p, err
	}
	return nil, fmt.Errorf("unknown message type %q", t)
}

type BurnoutAlert struct {
	Severity        string           `json:"severity"`
	Signals         []string         `json:"signals,omitempty"`
	SuggestedAction InterventionKind `json:"suggested_action,omitempty"`
	Risk            RiskState        `json:"risk"`
}

type RevisionKind string

const (
	RevisionReplace RevisionKind = "replace"
	RevisionPatch   RevisionKind = "patch"
)

type RevisionStatus string

const (
	RevisionRequested RevisionStatus = "requested"
	RevisionApplied   RevisionStatus = "applied"
	RevisionRejected  RevisionStatus = "rejected"
)

type PatchOpKind string

const (
	OpInsert    PatchOpKind = "insert"
	OpRemove    PatchOpKind = "remove"
	OpReorder   PatchOpKind = "reorder"
	OpSetLoad   PatchOpKind = "set_load"
	OpSetStatus PatchOpKind = "set_status"
)

// PatchOp is one structured edit. Index is the target position for insert
// and reorder; it is clamped to the end of the schedule when out of range.
type PatchOp struct {
	Op     PatchOpKind `json:"op"`
	TaskID string      `json:"task_id,omitempty"`
	Task   *Task       `json:"task,omitempty"`
	Index  int         `json:"index,omitempty"`
	Load   LoadTag     `json:"load,omitempty"`
	Status TaskStatus  `json:"status,omitempty"`
}

type PlanRevision struct {
	RevisionID   string         `json:"revision_id"`
	Kind         RevisionKind   `json:"kind"`
	Tasks        []Task         `json:"tasks,omitempty"`
	Ops          []PatchOp      `json:"ops,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Status       RevisionStatus `json:"status"`
	RejectReason string         `json:"reject_reason,omitempty"`
	Result       *Schedule      `json:"result,omitempty"`
}

type InterventionOffer struct {
	Kind    InterventionKind `json:"kind"`
	Text    string           `json:"text"`
	Expires time.Time        `json:"expires"`
}

type OutcomeReason string

const (
	OutcomeAccepted OutcomeReason = "accepted"
	OutcomeRejected OutcomeReason = "rejected"
	OutcomeTimeout  OutcomeReason = "timeout"
	OutcomeClosed   OutcomeReason = "closed"
)

type InterventionOutcome struct {
	Kind            InterventionKind `json:"kind"`
	Accepted        bool             `json:"accepted"`
	Reason          OutcomeReason    `json:"reason"`
	RevisionID      string           `json:"revision_id,omitempty"`
	RevisionApplied bool             `json:"revision_applied"`
}

type SessionClosed struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}
