// README: Request/assignment store backed by PostgreSQL.
package request

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lifeline/internal/types"
)

// PGStore is the production Store implementation.
type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CreateRequest(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO requests (
			id, requester_id, blood_group, lat, lng, units, urgency,
			status, status_version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(r.ID),
		string(r.RequesterID),
		string(r.Group),
		r.Location.Lat, r.Location.Lng,
		r.Units,
		string(r.Urgency),
		string(r.Status),
		r.StatusVersion,
		r.CreatedAt,
	)
	return err
}

func (s *PGStore) GetRequest(ctx context.Context, id types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, requester_id, blood_group, lat, lng, units, urgency,
		       status, status_version, volunteer_id,
		       created_at, approved_at, completed_at, cancelled_at, cancel_reason
		FROM requests
		WHERE id = $1`, string(id),
	)

	var r Request
	var volunteerID, cancelReason *string
	err := row.Scan(
		&r.ID, &r.RequesterID, &r.Group, &r.Location.Lat, &r.Location.Lng,
		&r.Units, &r.Urgency, &r.Status, &r.StatusVersion, &volunteerID,
		&r.CreatedAt, &r.ApprovedAt, &r.CompletedAt, &r.CancelledAt, &cancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if volunteerID != nil {
		v := types.ID(*volunteerID)
		r.VolunteerID = &v
	}
	r.CancelReason = cancelReason
	return &r, nil
}

const updateStatusSQL = `
	UPDATE requests
	SET status = $1,
	    status_version = status_version + 1,
	    volunteer_id = COALESCE($2, volunteer_id),
	    approved_at = CASE WHEN $1 = 'approved' THEN NOW() ELSE approved_at END,
	    completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END,
	    cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END
	WHERE id = $3 AND status = $4 AND status_version = $5`

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, volunteerID *types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, updateStatusSQL,
		string(to), toStringPtr(volunteerID), string(id), string(from), version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) CancelRequest(ctx context.Context, id types.ID, from Status, version int, reason *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE requests
		SET status = 'cancelled',
		    status_version = status_version + 1,
		    cancelled_at = NOW(),
		    cancel_reason = $1
		WHERE id = $2 AND status = $3 AND status_version = $4`,
		reason, string(id), string(from), version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) CreateAssignmentAndAdvance(ctx context.Context, a *Assignment, from, to Status, version int, volunteerID *types.ID) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateStatusSQL,
		string(to), toStringPtr(volunteerID), string(a.RequestID), string(from), version)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		// Lost the version race; roll the assignment back too.
		return false, nil
	}

	if err := insertAssignment(ctx, tx, a); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func insertAssignment(ctx context.Context, tx pgx.Tx, a *Assignment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO assignments (
			id, request_id, candidate_id, role, status, assigned_by, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(a.ID),
		string(a.RequestID),
		string(a.CandidateID),
		string(a.Role),
		string(a.Status),
		string(a.AssignedBy),
		a.Note,
		a.CreatedAt,
	)
	return err
}

func (s *PGStore) GetAssignment(ctx context.Context, id types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, request_id, candidate_id, role, status, assigned_by, note,
		       created_at, responded_at
		FROM assignments
		WHERE id = $1`, string(id),
	)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) AssignmentsByRequest(ctx context.Context, requestID types.ID) ([]Assignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, candidate_id, role, status, assigned_by, note,
		       created_at, responded_at
		FROM assignments
		WHERE request_id = $1
		ORDER BY created_at`, string(requestID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const updateAssignmentSQL = `
	UPDATE assignments
	SET status = $1,
	    responded_at = $2,
	    note = COALESCE($3, note)
	WHERE id = $4 AND status = $5`

func (s *PGStore) UpdateAssignmentStatus(ctx context.Context, id types.ID, from, to AssignmentStatus, respondedAt time.Time, note *string) (bool, error) {
	tag, err := s.db.Exec(ctx, updateAssignmentSQL,
		string(to), respondedAt, note, string(id), string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) RespondAndAdvance(ctx context.Context, assignmentID types.ID, from, to AssignmentStatus, respondedAt time.Time, note *string, requestID types.ID, reqFrom, reqTo Status, version int) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateAssignmentSQL,
		string(to), respondedAt, note, string(assignmentID), string(from))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, updateStatusSQL,
		string(reqTo), (*string)(nil), string(requestID), string(reqFrom), version)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO request_state_events (
			request_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RequestID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	err := row.Scan(
		&a.ID, &a.RequestID, &a.CandidateID, &a.Role, &a.Status,
		&a.AssignedBy, &a.Note, &a.CreatedAt, &a.RespondedAt,
	)
	return a, err
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
