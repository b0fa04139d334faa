package pg

import (
	"context"

	"carebase.org/internal/accountability"
)

// Accountability rows are keyed by the full (user, subject type, subject id)
// triple. No scope column exists on this table on purpose.

func (s *Store) Assign(ctx context.Context, a accountability.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into accountability_assignments (user_id, subject_type, subject_id, assigned_at)
		values ($1, $2, $3, $4)
		on conflict (user_id, subject_type, subject_id) do nothing
	`, a.UserID, a.SubjectType, a.SubjectID, a.AssignedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return accountability.ErrNotFound
	}
	return err
}

func (s *Store) Unassign(ctx context.Context, userID string, subjectType accountability.SubjectType, subjectID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from accountability_assignments
		where user_id = $1 and subject_type = $2 and subject_id = $3
	`, userID, subjectType, subjectID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return accountability.ErrNotFound
	}
	return nil
}

func (s *Store) ListForUser(ctx context.Context, userID string) ([]accountability.Assignment, error) {
	return s.listAssignments(ctx, `
		select user_id, subject_type, subject_id, assigned_at
		from accountability_assignments
		where user_id = $1
		order by subject_type, subject_id
	`, userID)
}

func (s *Store) ListForSubject(ctx context.Context, subjectType accountability.SubjectType, subjectID string) ([]accountability.Assignment, error) {
	return s.listAssignments(ctx, `
		select user_id, subject_type, subject_id, assigned_at
		from accountability_assignments
		where subject_type = $1 and subject_id = $2
		order by user_id
	`, subjectType, subjectID)
}

func (s *Store) listAssignments(ctx context.Context, query string, args ...any) ([]accountability.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []accountability.Assignment
	for rows.Next() {
		var a accountability.Assignment
		if err := rows.Scan(&a.UserID, &a.SubjectType, &a.SubjectID, &a.AssignedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}
