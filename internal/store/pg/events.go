package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carebase.org/internal/event"
)

const eventColumns = `id, stream_type, stream_id, event_type, event_data, event_metadata, created_at, processed_at, coalesce(processing_error, '')`

// AppendAndProject inserts the event and applies its projection inside one
// transaction. The projection runs under a savepoint: a handler failure rolls
// back the projection writes only, the event row commits with the failure
// recorded in processing_error. Infrastructure errors (insert, savepoint,
// commit) abort the whole append and leave no row behind.
func (s *Store) AppendAndProject(ctx context.Context, ev *event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into events (id, stream_type, stream_id, event_type, event_data, event_metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.StreamType, ev.StreamID, ev.Type, []byte(ev.Data), []byte(ev.Metadata), ev.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: event %s", event.ErrInvalidInput, ev.ID)
		}
		return err
	}

	procErr, err := s.projectWithSavepoint(ctx, tx, ev)
	if err != nil {
		return err
	}
	if err := s.markOutcome(ctx, tx, ev, procErr); err != nil {
		return err
	}
	return tx.Commit()
}

// projectWithSavepoint applies the projection handler behind a savepoint and
// returns the handler error as data, not as a transaction failure.
func (s *Store) projectWithSavepoint(ctx context.Context, tx *sql.Tx, ev *event.Event) (procErr error, err error) {
	if _, err := tx.ExecContext(ctx, `savepoint projection`); err != nil {
		return nil, err
	}
	if herr := applyProjection(ctx, tx, ev); herr != nil {
		if _, err := tx.ExecContext(ctx, `rollback to savepoint projection`); err != nil {
			return nil, err
		}
		return herr, nil
	}
	if _, err := tx.ExecContext(ctx, `release savepoint projection`); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Store) markOutcome(ctx context.Context, tx *sql.Tx, ev *event.Event, procErr error) error {
	if procErr != nil {
		if _, err := tx.ExecContext(ctx, `
			update events set processed_at = null, processing_error = $2 where id = $1
		`, ev.ID, procErr.Error()); err != nil {
			return err
		}
		ev.ProcessedAt = nil
		ev.ProcessingError = procErr.Error()
		return nil
	}
	processedAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update events set processed_at = $2, processing_error = null where id = $1
	`, ev.ID, processedAt); err != nil {
		return err
	}
	ev.ProcessedAt = &processedAt
	ev.ProcessingError = ""
	return nil
}

func (s *Store) Event(ctx context.Context, id string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx, `select `+eventColumns+` from events where id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", event.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Store) FailedEvents(ctx context.Context, filter event.FailedFilter) ([]event.Event, error) {
	query := `select ` + eventColumns + ` from events where processing_error is not null`
	args := []any{}
	if filter.StreamType != "" {
		query += ` and stream_type = $1`
		args = append(args, filter.StreamType)
	}
	query += fmt.Sprintf(` order by created_at desc limit $%d`, len(args)+1)
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Reprocess re-runs the projection for a previously failed event through the
// same handler path as first-pass processing.
func (s *Store) Reprocess(ctx context.Context, id string) (*event.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `select `+eventColumns+` from events where id = $1 for update`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", event.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if ev.Processed() {
		return nil, fmt.Errorf("%w: event %s", event.ErrAlreadyProcessed, id)
	}

	procErr, err := s.projectWithSavepoint(ctx, tx, ev)
	if err != nil {
		return nil, err
	}
	if err := s.markOutcome(ctx, tx, ev, procErr); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		ev          event.Event
		data        []byte
		metadata    []byte
		processedAt sql.NullTime
	)
	if err := row.Scan(&ev.ID, &ev.StreamType, &ev.StreamID, &ev.Type, &data, &metadata, &ev.CreatedAt, &processedAt, &ev.ProcessingError); err != nil {
		return nil, err
	}
	ev.Data = data
	ev.Metadata = metadata
	if processedAt.Valid {
		t := processedAt.Time
		ev.ProcessedAt = &t
	}
	return &ev, nil
}
