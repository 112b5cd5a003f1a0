package models

import "time"

type PriorityClass int

const (
	PriorityP0 PriorityClass = iota
	PriorityP1
	PriorityP2
	PriorityP3
)

func (p PriorityClass) String() string {
	switch p {
	case PriorityP0:
		return "P0"
	case PriorityP1:
		return "P1"
	case PriorityP2:
		return "P2"
	case PriorityP3:
		return "P3"
	default:
		return "P?"
	}
}

// PriorityClasses lists all lanes in dequeue precedence order.
var PriorityClasses = []PriorityClass{PriorityP0, PriorityP1, PriorityP2, PriorityP3}

type ItemState string

const (
	StateQueued     ItemState = "queued"
	StateDispatched ItemState = "dispatched"
	StateCompleted  ItemState = "completed"
	StateRetrying   ItemState = "retrying"
	StateDead       ItemState = "dead"
	StateCancelled  ItemState = "cancelled"
)

// QueueItem wraps a LeadEvent with scheduling metadata. State
// transitions are monotonic: queued → dispatched → {completed |
// retrying | dead}; retrying → queued on re-admission. Attempt only
// increases.
type QueueItem struct {
	ID             string          `json:"id"`
	Lead           LeadEvent       `json:"lead"`
	PriorityClass  PriorityClass   `json:"priority_class"`
	NotBefore      time.Time       `json:"not_before"`
	Attempt        int             `json:"attempt"`
	State          ItemState       `json:"state"`
	LastErrorKind  ErrorKind       `json:"last_error_kind,omitempty"`
	AttemptHistory []AttemptRecord `json:"attempt_history,omitempty"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
}

type AttemptRecord struct {
	At        time.Time `json:"at"`
	ErrorKind ErrorKind `json:"error_kind"`
}
