package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"carebase.org/internal/audit"
	"carebase.org/internal/obs"
)

const (
	defaultFailedLimit = 50
	maxFailedLimit     = 500
)

const (
	outcomeProcessed = "processed"
	outcomeFailed    = "failed"
)

// Publisher receives every committed event, regardless of projection outcome.
type Publisher interface {
	Publish(ev Event)
}

// AppendInput is the append contract exposed to command sources.
type AppendInput struct {
	StreamType StreamType      `json:"stream_type"`
	StreamID   string          `json:"stream_id"`
	Type       Type            `json:"event_type"`
	Data       json.RawMessage `json:"event_data"`
	Metadata   json.RawMessage `json:"event_metadata"`
}

// AppendResult distinguishes "committed, processed" from "committed,
// processing failed". A non-empty ProcessingError means the event is durable
// but its projection awaits an administrative retry.
type AppendResult struct {
	EventID         string `json:"event_id"`
	Processed       bool   `json:"processed"`
	ProcessingError string `json:"processing_error,omitempty"`
}

// RetryResult reports the outcome of an administrative reprocess call.
type RetryResult struct {
	EventID         string `json:"event_id"`
	Processed       bool   `json:"processed"`
	ProcessingError string `json:"processing_error,omitempty"`
}

// Service is the single write path into the event store.
type Service struct {
	store Store
	feed  Publisher
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithPublisher attaches a committed-event publisher (the SSE feed).
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.feed = p }
}

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the event service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append validates, commits and projects one event. Unknown stream or event
// types are rejected before anything touches the store; recognized events
// always commit, and projection failures surface in the result, not as errors.
func (s *Service) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if err := Validate(in.StreamType, in.Type); err != nil {
		return AppendResult{}, err
	}
	streamID := strings.TrimSpace(in.StreamID)
	if streamID == "" {
		return AppendResult{}, fmt.Errorf("%w: stream_id is required", ErrInvalidInput)
	}
	data := in.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if !json.Valid(data) {
		return AppendResult{}, fmt.Errorf("%w: event_data is not valid JSON", ErrInvalidInput)
	}
	metadata := in.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	if !json.Valid(metadata) {
		return AppendResult{}, fmt.Errorf("%w: event_metadata is not valid JSON", ErrInvalidInput)
	}

	ev := &Event{
		ID:         uuid.NewString(),
		StreamType: in.StreamType,
		StreamID:   streamID,
		Type:       in.Type,
		Data:       data,
		Metadata:   metadata,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.AppendAndProject(ctx, ev); err != nil {
		return AppendResult{}, err
	}

	outcome := outcomeProcessed
	if ev.ProcessingError != "" {
		outcome = outcomeFailed
	}
	obs.ObserveEventAppend(string(ev.StreamType), outcome)
	_ = audit.LogEvent(ctx, "event.appended", map[string]any{
		"event_id":    ev.ID,
		"stream_type": ev.StreamType,
		"event_type":  ev.Type,
		"outcome":     outcome,
	})
	if s.feed != nil {
		s.feed.Publish(*ev)
	}

	return AppendResult{
		EventID:         ev.ID,
		Processed:       ev.ProcessingError == "",
		ProcessingError: ev.ProcessingError,
	}, nil
}

// FailedEvents lists events whose projection failed, newest first.
func (s *Service) FailedEvents(ctx context.Context, filter FailedFilter) ([]Event, error) {
	if filter.StreamType != "" {
		if _, ok := registry[filter.StreamType]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStreamType, filter.StreamType)
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultFailedLimit
	}
	if filter.Limit > maxFailedLimit {
		filter.Limit = maxFailedLimit
	}
	return s.store.FailedEvents(ctx, filter)
}

// Retry re-runs projection processing for a failed event. The store drives
// the exact same handler path as first-pass processing.
func (s *Service) Retry(ctx context.Context, eventID string) (RetryResult, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return RetryResult{}, fmt.Errorf("%w: event_id is required", ErrInvalidInput)
	}
	ev, err := s.store.Reprocess(ctx, eventID)
	if err != nil {
		return RetryResult{}, err
	}

	outcome := outcomeProcessed
	if ev.ProcessingError != "" {
		outcome = outcomeFailed
	}
	obs.ObserveEventRetry(outcome)
	_ = audit.LogEvent(ctx, "event.retried", map[string]any{
		"event_id": ev.ID,
		"outcome":  outcome,
	})

	return RetryResult{
		EventID:         ev.ID,
		Processed:       ev.ProcessingError == "",
		ProcessingError: ev.ProcessingError,
	}, nil
}
