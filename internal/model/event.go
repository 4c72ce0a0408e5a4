package model

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventProjectOpened      EventType = "project.opened"
	EventProjectCompleted   EventType = "project.completed"
	EventProjectCancelled   EventType = "project.cancelled"
	EventProjectClosed      EventType = "project.closed"
	EventProposalSubmitted  EventType = "proposal.submitted"
	EventProposalAccepted   EventType = "proposal.accepted"
	EventProposalRejected   EventType = "proposal.rejected"
	EventProposalWithdrawn  EventType = "proposal.withdrawn"
	EventContractCreated    EventType = "contract.created"
	EventContractSigned     EventType = "contract.signed"
	EventContractActivated  EventType = "contract.activated"
	EventContractPaused     EventType = "contract.paused"
	EventContractResumed    EventType = "contract.resumed"
	EventContractCompleted  EventType = "contract.completed"
	EventContractCancelled  EventType = "contract.cancelled"
	EventContractDisputed   EventType = "contract.disputed"
	EventContractResolved   EventType = "contract.resolved"
	EventMilestoneCreated   EventType = "milestone.created"
	EventMilestoneFunded    EventType = "milestone.funded"
	EventMilestoneStarted   EventType = "milestone.started"
	EventMilestoneSubmitted EventType = "milestone.submitted"
	EventMilestoneApproved  EventType = "milestone.approved"
	EventMilestoneReleased  EventType = "milestone.released"
	EventMilestoneDisputed  EventType = "milestone.disputed"
)

// Event is the domain event emitted after every committed state transition.
// Delivery (push, email) happens downstream and is best-effort.
type Event struct {
	Type       EventType      `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   uuid.UUID      `json:"entity_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
