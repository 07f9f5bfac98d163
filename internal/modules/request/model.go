// README: Request and assignment aggregates with their status definitions.
package request

import (
	"time"

	"lifeline/internal/modules/matching"
	"lifeline/internal/types"
)

type Status string

const (
	StatusNone              Status = "none"
	StatusSubmitted         Status = "submitted"
	StatusApproved          Status = "approved"
	StatusVolunteerAssigned Status = "volunteer_assigned"
	StatusDonorAssigned     Status = "donor_assigned"
	StatusDonorConfirmed    Status = "donor_confirmed"
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyCritical Urgency = "critical"
)

func ValidUrgency(u Urgency) bool {
	switch u {
	case UrgencyNormal, UrgencyUrgent, UrgencyCritical:
		return true
	}
	return false
}

// AllowedTransitions represents the request state flow as code. The machine
// is strictly forward; cancellation is the single escape hatch from every
// non-terminal state. The donor_assigned self-loop admits additional donor
// assignments while more units are needed.
var AllowedTransitions = map[Status][]Status{
	StatusSubmitted:         {StatusApproved, StatusCancelled},
	StatusApproved:          {StatusVolunteerAssigned, StatusCancelled},
	StatusVolunteerAssigned: {StatusDonorAssigned, StatusCancelled},
	StatusDonorAssigned:     {StatusDonorAssigned, StatusDonorConfirmed, StatusCancelled},
	StatusDonorConfirmed:    {StatusInProgress, StatusCancelled},
	StatusInProgress:        {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func Terminal(s Status) bool {
	return len(AllowedTransitions[s]) == 0
}

type Request struct {
	ID            types.ID
	RequesterID   types.ID
	Group         matching.BloodGroup
	Location      types.Point
	Units         int
	Urgency       Urgency
	Status        Status
	StatusVersion int
	VolunteerID   *types.ID
	CreatedAt     time.Time
	ApprovedAt    *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	CancelReason  *string
}

type Role string

const (
	RoleVolunteer Role = "volunteer"
	RoleDonor     Role = "donor"
)

type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentAccepted  AssignmentStatus = "accepted"
	AssignmentRejected  AssignmentStatus = "rejected"
	AssignmentCompleted AssignmentStatus = "completed"
)

var assignmentTransitions = map[AssignmentStatus][]AssignmentStatus{
	AssignmentPending:  {AssignmentAccepted, AssignmentRejected},
	AssignmentAccepted: {AssignmentCompleted},
}

func AssignmentCanTransition(from, to AssignmentStatus) bool {
	next, ok := assignmentTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Assignment links one request to one candidate for a role. A request holds
// at most one active volunteer assignment and any number of donor
// assignments, one per unit-provider.
type Assignment struct {
	ID          types.ID
	RequestID   types.ID
	CandidateID types.ID
	Role        Role
	Status      AssignmentStatus
	AssignedBy  types.ID
	Note        *string
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// Event is one audit record per state transition.
type Event struct {
	ID         int64
	RequestID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}
