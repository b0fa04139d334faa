package event

import "context"

// FailedFilter narrows the administrative failed-events listing.
type FailedFilter struct {
	StreamType StreamType
	Limit      int
}

// Store persists events and applies projections. AppendAndProject runs the
// insert and the projection handler inside one transaction: the event row
// always commits for recognized types, and a handler failure is rolled back
// to a savepoint and recorded on the event instead of propagating.
type Store interface {
	// AppendAndProject writes the event and applies its projection. On
	// return ev carries ProcessedAt or ProcessingError as committed.
	AppendAndProject(ctx context.Context, ev *Event) error
	// Event loads a single event by id.
	Event(ctx context.Context, id string) (*Event, error)
	// FailedEvents lists committed events whose projection failed.
	FailedEvents(ctx context.Context, filter FailedFilter) ([]Event, error)
	// Reprocess re-runs the projection for a failed event through the same
	// handler path as first-pass processing and returns the updated event.
	Reprocess(ctx context.Context, id string) (*Event, error)
}
