// README: Lifecycle service implements request/assignment state transitions.
package request

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline/internal/modules/matching"
	"lifeline/internal/types"
)

var (
	ErrInvalidState   = errors.New("invalid state transition")
	ErrNotFound       = errors.New("request not found")
	ErrConflict       = errors.New("request state conflict")
	ErrIncompatible   = errors.New("incompatible blood group")
	ErrUnitsFulfilled = errors.New("all required units already assigned")
	ErrBadRequest     = errors.New("bad request")
)

// Store is the persistence port for requests and assignments. *PGStore
// satisfies it; tests supply an in-memory fake.
type Store interface {
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id types.ID) (*Request, error)
	// UpdateStatus applies a conditional status change guarded by the
	// optimistic version. It reports false when a concurrent writer won.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, volunteerID *types.ID) (bool, error)
	// CancelRequest is the cancellation-specific status change; it records the
	// caller's reason alongside the terminal status.
	CancelRequest(ctx context.Context, id types.ID, from Status, version int, reason *string) (bool, error)
	// CreateAssignmentAndAdvance inserts the assignment and advances the
	// request status in a single transaction.
	CreateAssignmentAndAdvance(ctx context.Context, a *Assignment, from, to Status, version int, volunteerID *types.ID) (bool, error)
	GetAssignment(ctx context.Context, id types.ID) (*Assignment, error)
	AssignmentsByRequest(ctx context.Context, requestID types.ID) ([]Assignment, error)
	// UpdateAssignmentStatus is conditional on the current assignment status.
	UpdateAssignmentStatus(ctx context.Context, id types.ID, from, to AssignmentStatus, respondedAt time.Time, note *string) (bool, error)
	// RespondAndAdvance applies an assignment response and a request status
	// advance together or not at all.
	RespondAndAdvance(ctx context.Context, assignmentID types.ID, from, to AssignmentStatus, respondedAt time.Time, note *string, requestID types.ID, reqFrom, reqTo Status, version int) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
}

// Matcher is the slice of the matching engine the lifecycle needs.
type Matcher interface {
	Donor(ctx context.Context, id types.ID) (*matching.Donor, error)
	Volunteer(ctx context.Context, id types.ID) (*matching.Volunteer, error)
	NextDonor(ctx context.Context, need matching.Need, exclude []types.ID) (*matching.ScoredDonor, error)
	MarkDonorAssigned(ctx context.Context, id types.ID) error
	RecordDonation(ctx context.Context, id types.ID, at time.Time) error
}

// Notifier receives lifecycle hook points. Delivery is fire-and-forget and
// out of scope here; implementations must not block.
type Notifier interface {
	RequestApproved(ctx context.Context, r *Request)
	AssignmentCreated(ctx context.Context, r *Request, a *Assignment)
	AssignmentResponded(ctx context.Context, r *Request, a *Assignment)
	DonationCompleted(ctx context.Context, r *Request, a *Assignment)
}

// RouteCloser deactivates live tracking when a request is cancelled.
type RouteCloser interface {
	DeactivateByRequest(ctx context.Context, requestID types.ID) error
}

type Service struct {
	store    Store
	matcher  Matcher
	notifier Notifier
	routes   RouteCloser
	log      *zap.Logger
}

func NewService(store Store, matcher Matcher, notifier Notifier, routes RouteCloser, log *zap.Logger) *Service {
	return &Service{store: store, matcher: matcher, notifier: notifier, routes: routes, log: log}
}

type CreateCommand struct {
	RequesterID types.ID
	Group       matching.BloodGroup
	Location    types.Point
	Units       int
	Urgency     Urgency
}

type ApproveCommand struct {
	RequestID types.ID
	ActorID   types.ID
}

type AssignVolunteerCommand struct {
	RequestID   types.ID
	VolunteerID types.ID
	AssignedBy  types.ID
}

type AssignDonorCommand struct {
	RequestID  types.ID
	DonorID    types.ID
	AssignedBy types.ID
}

type RespondCommand struct {
	AssignmentID types.ID
	Decision     AssignmentStatus // AssignmentAccepted or AssignmentRejected
	Note         *string
}

type CancelCommand struct {
	RequestID types.ID
	ActorType string
	ActorID   *types.ID
	Reason    string
}

// Create records a new blood request in the submitted state.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if cmd.RequesterID == "" || !matching.ValidGroup(cmd.Group) || !cmd.Location.Valid() || cmd.Units < 1 {
		return "", ErrBadRequest
	}
	if cmd.Urgency == "" {
		cmd.Urgency = UrgencyNormal
	}
	if !ValidUrgency(cmd.Urgency) {
		return "", ErrBadRequest
	}

	r := &Request{
		ID:            newID(),
		RequesterID:   cmd.RequesterID,
		Group:         cmd.Group,
		Location:      cmd.Location,
		Units:         cmd.Units,
		Urgency:       cmd.Urgency,
		Status:        StatusSubmitted,
		StatusVersion: 0,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateRequest(ctx, r); err != nil {
		return "", err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RequestID:  r.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusSubmitted,
		ActorType:  "requester",
		ActorID:    &cmd.RequesterID,
		CreatedAt:  r.CreatedAt,
	})
	return r.ID, nil
}

// Approve moves a submitted request into the matchable pool.
func (s *Service) Approve(ctx context.Context, cmd ApproveCommand) error {
	r, err := s.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusApproved) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.Status, StatusApproved, r.StatusVersion, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RequestID:  r.ID,
		FromStatus: r.Status,
		ToStatus:   StatusApproved,
		ActorType:  "operator",
		ActorID:    &cmd.ActorID,
		CreatedAt:  time.Now(),
	})
	if s.notifier != nil {
		r.Status = StatusApproved
		s.notifier.RequestApproved(ctx, r)
	}
	return nil
}

// AssignVolunteer creates a pending volunteer assignment and advances the
// request. At most one active volunteer assignment exists per request, which
// the approved→volunteer_assigned transition enforces.
func (s *Service) AssignVolunteer(ctx context.Context, cmd AssignVolunteerCommand) (*Assignment, error) {
	r, err := s.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusVolunteerAssigned) {
		return nil, ErrInvalidState
	}

	v, err := s.matcher.Volunteer(ctx, cmd.VolunteerID)
	if err != nil {
		if errors.Is(err, matching.ErrCandidateNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !v.Active {
		return nil, ErrBadRequest
	}

	a := &Assignment{
		ID:          newID(),
		RequestID:   r.ID,
		CandidateID: v.ID,
		Role:        RoleVolunteer,
		Status:      AssignmentPending,
		AssignedBy:  cmd.AssignedBy,
		CreatedAt:   time.Now(),
	}
	ok, err := s.store.CreateAssignmentAndAdvance(ctx, a, r.Status, StatusVolunteerAssigned, r.StatusVersion, &v.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RequestID:  r.ID,
		FromStatus: r.Status,
		ToStatus:   StatusVolunteerAssigned,
		ActorType:  "operator",
		ActorID:    &cmd.AssignedBy,
		CreatedAt:  a.CreatedAt,
	})
	if s.notifier != nil {
		r.Status = StatusVolunteerAssigned
		s.notifier.AssignmentCreated(ctx, r, a)
	}
	return a, nil
}

// AssignDonor creates a pending donor assignment. Additional donors may be
// assigned while the request still needs units; the request status advances
// to donor_assigned on the first one and stays there afterwards.
func (s *Service) AssignDonor(ctx context.Context, cmd AssignDonorCommand) (*Assignment, error) {
	r, err := s.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusDonorAssigned) {
		return nil, ErrInvalidState
	}

	d, err := s.matcher.Donor(ctx, cmd.DonorID)
	if err != nil {
		if errors.Is(err, matching.ErrCandidateNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !matching.Compatible(r.Group, d.Group) {
		return nil, ErrIncompatible
	}

	existing, err := s.store.AssignmentsByRequest(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if openDonorSlots(r, existing) <= 0 {
		return nil, ErrUnitsFulfilled
	}
	for _, prev := range existing {
		if prev.Role == RoleDonor && prev.CandidateID == d.ID && prev.Status != AssignmentRejected {
			return nil, ErrBadRequest
		}
	}

	a := &Assignment{
		ID:          newID(),
		RequestID:   r.ID,
		CandidateID: d.ID,
		Role:        RoleDonor,
		Status:      AssignmentPending,
		AssignedBy:  cmd.AssignedBy,
		CreatedAt:   time.Now(),
	}
	ok, err := s.store.CreateAssignmentAndAdvance(ctx, a, r.Status, StatusDonorAssigned, r.StatusVersion, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RequestID:  r.ID,
		FromStatus: r.Status,
		ToStatus:   StatusDonorAssigned,
		ActorType:  "operator",
		ActorID:    &cmd.AssignedBy,
		CreatedAt:  a.CreatedAt,
	})
	if s.notifier != nil {
		r.Status = StatusDonorAssigned
		s.notifier.AssignmentCreated(ctx, r, a)
	}
	return a, nil
}

// Respond records a candidate's accept/reject decision. The first accepted
// donor advances the request to donor_confirmed; a rejection leaves the
// request untouched so the operator can ask for the next candidate.
func (s *Service) Respond(ctx context.Context, cmd RespondCommand) (*Assignment, error) {
	if cmd.Decision != AssignmentAccepted && cmd.Decision != AssignmentRejected {
		return nil, ErrBadRequest
	}

	a, err := s.store.GetAssignment(ctx, cmd.AssignmentID)
	if err != nil {
		return nil, err
	}
	if !AssignmentCanTransition(a.Status, cmd.Decision) {
		return nil, ErrInvalidState
	}
	r, err := s.store.GetRequest(ctx, a.RequestID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	advance := cmd.Decision == AssignmentAccepted &&
		a.Role == RoleDonor &&
		r.Status == StatusDonorAssigned

	if advance {
		// First accepted donor confirms the request; later acceptances find
		// the request already in donor_confirmed and skip this branch.
		ok, err := s.store.RespondAndAdvance(ctx, a.ID, a.Status, cmd.Decision, now, cmd.Note,
			r.ID, r.Status, StatusDonorConfirmed, r.StatusVersion)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		_ = s.store.AppendEvent(ctx, &Event{
			RequestID:  r.ID,
			FromStatus: r.Status,
			ToStatus:   StatusDonorConfirmed,
			ActorType:  "donor",
			ActorID:    &a.CandidateID,
			CreatedAt:  now,
		})
		r.Status = StatusDonorConfirmed
	} else {
		ok, err := s.store.UpdateAssignmentStatus(ctx, a.ID, a.Status, cmd.Decision, now, cmd.Note)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
	}

	if cmd.Decision == AssignmentAccepted && a.Role == RoleDonor {
		// Delegated candidate write: an accepted donor is no longer in the
		// open pool.
		if err := s.matcher.MarkDonorAssigned(ctx, a.CandidateID); err != nil {
			s.log.Warn("mark donor assigned", zap.String("donor_id", string(a.CandidateID)), zap.Error(err))
		}
	}

	a.Status = cmd.Decision
	a.RespondedAt = &now
	a.Note = cmd.Note
	if s.notifier != nil {
		s.notifier.AssignmentResponded(ctx, r, a)
	}
	return a, nil
}

// CompleteAssignment records that the donation (or escort trip) behind an
// accepted assignment actually happened.
func (s *Service) CompleteAssignment(ctx context.Context, assignmentID types.ID) (*Assignment, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !AssignmentCanTransition(a.Status, AssignmentCompleted) {
		return nil, ErrInvalidState
	}
	now := time.Now()
	ok, err := s.store.UpdateAssignmentStatus(ctx, a.ID, a.Status, AssignmentCompleted, now, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	if a.Role == RoleDonor {
		if err := s.matcher.RecordDonation(ctx, a.CandidateID, now); err != nil {
			s.log.Warn("record donation", zap.String("donor_id", string(a.CandidateID)), zap.Error(err))
		}
	}

	a.Status = AssignmentCompleted
	a.RespondedAt = &now
	if s.notifier != nil {
		if r, err := s.store.GetRequest(ctx, a.RequestID); err == nil {
			s.notifier.DonationCompleted(ctx, r, a)
		}
	}
	return a, nil
}

// Start marks the confirmed request as underway (responder en route).
func (s *Service) Start(ctx context.Context, requestID types.ID, actorID types.ID) error {
	return s.advance(ctx, requestID, StatusInProgress, "volunteer", &actorID)
}

// Complete closes the request after all donation work is done.
func (s *Service) Complete(ctx context.Context, requestID types.ID, actorID types.ID) error {
	return s.advance(ctx, requestID, StatusCompleted, "operator", &actorID)
}

func (s *Service) advance(ctx context.Context, requestID types.ID, to Status, actorType string, actorID *types.ID) error {
	r, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, to) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.Status, to, r.StatusVersion, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RequestID:  r.ID,
		FromStatus: r.Status,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  time.Now(),
	})
	return nil
}

// Cancel aborts a request from any non-terminal state and deactivates its
// live routes. Historical samples are retained.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	r, err := s.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCancelled) {
		return ErrInvalidState
	}
	var reason *string
	if cmd.Reason != "" {
		reason = &cmd.Reason
	}
	ok, err := s.store.CancelRequest(ctx, r.ID, r.Status, r.StatusVersion, reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RequestID:  r.ID,
		FromStatus: r.Status,
		ToStatus:   StatusCancelled,
		ActorType:  cmd.ActorType,
		ActorID:    cmd.ActorID,
		CreatedAt:  time.Now(),
	})
	if s.routes != nil {
		if err := s.routes.DeactivateByRequest(ctx, r.ID); err != nil {
			s.log.Warn("deactivate routes", zap.String("request_id", string(r.ID)), zap.Error(err))
		}
	}
	return nil
}

// NextCandidate re-runs the scoring engine against the remaining pool after
// a rejection and proposes the next best donor. The re-match trigger is an
// explicit operation, not caller-side convention.
func (s *Service) NextCandidate(ctx context.Context, requestID types.ID) (*matching.ScoredDonor, error) {
	r, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusDonorAssigned) {
		return nil, ErrInvalidState
	}

	existing, err := s.store.AssignmentsByRequest(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	tried := make([]types.ID, 0, len(existing))
	for _, a := range existing {
		if a.Role == RoleDonor {
			tried = append(tried, a.CandidateID)
		}
	}

	need := matching.Need{Group: r.Group, Location: r.Location, Units: r.Units}
	return s.matcher.NextDonor(ctx, need, tried)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *Service) Assignments(ctx context.Context, requestID types.ID) ([]Assignment, error) {
	return s.store.AssignmentsByRequest(ctx, requestID)
}

// openDonorSlots counts units not yet covered by a pending or accepted donor
// assignment.
func openDonorSlots(r *Request, assignments []Assignment) int {
	taken := 0
	for _, a := range assignments {
		if a.Role != RoleDonor {
			continue
		}
		if a.Status == AssignmentPending || a.Status == AssignmentAccepted || a.Status == AssignmentCompleted {
			taken++
		}
	}
	return r.Units - taken
}

func newID() types.ID {
	return types.ID(uuid.NewString())
}
