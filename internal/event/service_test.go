package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type stubStore struct {
	appendFn    func(ctx context.Context, ev *Event) error
	reprocessFn func(ctx context.Context, id string) (*Event, error)
	failedFn    func(ctx context.Context, f FailedFilter) ([]Event, error)
	appends     int
}

func (s *stubStore) AppendAndProject(ctx context.Context, ev *Event) error {
	s.appends++
	if s.appendFn != nil {
		return s.appendFn(ctx, ev)
	}
	now := time.Now().UTC()
	ev.ProcessedAt = &now
	return nil
}

func (s *stubStore) Event(_ context.Context, _ string) (*Event, error) {
	return nil, ErrNotFound
}

func (s *stubStore) FailedEvents(ctx context.Context, f FailedFilter) ([]Event, error) {
	if s.failedFn != nil {
		return s.failedFn(ctx, f)
	}
	return nil, nil
}

func (s *stubStore) Reprocess(ctx context.Context, id string) (*Event, error) {
	if s.reprocessFn != nil {
		return s.reprocessFn(ctx, id)
	}
	return nil, ErrNotFound
}

type recordingFeed struct {
	events []Event
}

func (f *recordingFeed) Publish(ev Event) { f.events = append(f.events, ev) }

func TestAppendRejectsUnknownStreamType(t *testing.T) {
	store := &stubStore{}
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	_, err = svc.Append(context.Background(), AppendInput{
		StreamType: "medication_cart",
		StreamID:   "m1",
		Type:       "medication_cart.created",
	})
	if !errors.Is(err, ErrUnknownStreamType) {
		t.Fatalf("expected ErrUnknownStreamType, got %v", err)
	}
	if store.appends != 0 {
		t.Fatal("store must not be touched for unknown stream types")
	}
}

func TestAppendRejectsUnknownEventTypeForKnownStream(t *testing.T) {
	store := &stubStore{}
	svc, _ := NewService(store)
	_, err := svc.Append(context.Background(), AppendInput{
		StreamType: StreamInvitation,
		StreamID:   "i1",
		Type:       "invitation.teleported",
	})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
	if store.appends != 0 {
		t.Fatal("store must not be touched for unknown event types")
	}
}

func TestAppendRejectsMalformedJSON(t *testing.T) {
	svc, _ := NewService(&stubStore{})
	_, err := svc.Append(context.Background(), AppendInput{
		StreamType: StreamUser,
		StreamID:   "u1",
		Type:       TypeUserCreated,
		Data:       json.RawMessage(`{"broken`),
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAppendProcessedOutcome(t *testing.T) {
	feed := &recordingFeed{}
	svc, _ := NewService(&stubStore{}, WithPublisher(feed))
	res, err := svc.Append(context.Background(), AppendInput{
		StreamType: StreamUser,
		StreamID:   "u1",
		Type:       TypeUserCreated,
		Data:       json.RawMessage(`{"email":"a@example.com"}`),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.EventID == "" || !res.Processed || res.ProcessingError != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(feed.events) != 1 || feed.events[0].ID != res.EventID {
		t.Fatalf("committed event not published: %+v", feed.events)
	}
}

func TestAppendSoftFailureStillCommits(t *testing.T) {
	feed := &recordingFeed{}
	store := &stubStore{
		appendFn: func(_ context.Context, ev *Event) error {
			ev.ProcessingError = "users row missing referenced organization"
			return nil
		},
	}
	svc, _ := NewService(store, WithPublisher(feed))
	res, err := svc.Append(context.Background(), AppendInput{
		StreamType: StreamUser,
		StreamID:   "u1",
		Type:       TypeUserCreated,
	})
	if err != nil {
		t.Fatalf("soft projection failure must not surface as an error: %v", err)
	}
	if res.Processed || res.ProcessingError == "" {
		t.Fatalf("expected failed-processing result, got %+v", res)
	}
	if len(feed.events) != 1 {
		t.Fatal("soft-failed event must still publish to the feed")
	}
}

func TestAppendStoreErrorPropagates(t *testing.T) {
	wantErr := errors.New("connection reset")
	store := &stubStore{
		appendFn: func(_ context.Context, _ *Event) error { return wantErr },
	}
	svc, _ := NewService(store)
	_, err := svc.Append(context.Background(), AppendInput{
		StreamType: StreamUser,
		StreamID:   "u1",
		Type:       TypeUserCreated,
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestFailedEventsClampsLimit(t *testing.T) {
	var got FailedFilter
	store := &stubStore{
		failedFn: func(_ context.Context, f FailedFilter) ([]Event, error) {
			got = f
			return nil, nil
		},
	}
	svc, _ := NewService(store)

	if _, err := svc.FailedEvents(context.Background(), FailedFilter{}); err != nil {
		t.Fatalf("FailedEvents: %v", err)
	}
	if got.Limit != defaultFailedLimit {
		t.Fatalf("expected default limit, got %d", got.Limit)
	}

	if _, err := svc.FailedEvents(context.Background(), FailedFilter{Limit: 10000}); err != nil {
		t.Fatalf("FailedEvents: %v", err)
	}
	if got.Limit != maxFailedLimit {
		t.Fatalf("expected clamped limit, got %d", got.Limit)
	}

	if _, err := svc.FailedEvents(context.Background(), FailedFilter{StreamType: "bogus"}); !errors.Is(err, ErrUnknownStreamType) {
		t.Fatalf("expected ErrUnknownStreamType, got %v", err)
	}
}

func TestRetryOutcomes(t *testing.T) {
	now := time.Now().UTC()
	store := &stubStore{
		reprocessFn: func(_ context.Context, id string) (*Event, error) {
			switch id {
			case "ok":
				return &Event{ID: id, ProcessedAt: &now}, nil
			case "still-broken":
				return &Event{ID: id, ProcessingError: "missing row"}, nil
			default:
				return nil, ErrNotFound
			}
		},
	}
	svc, _ := NewService(store)

	res, err := svc.Retry(context.Background(), "ok")
	if err != nil || !res.Processed {
		t.Fatalf("expected processed retry, got %+v err=%v", res, err)
	}

	res, err = svc.Retry(context.Background(), "still-broken")
	if err != nil || res.Processed || res.ProcessingError == "" {
		t.Fatalf("expected failed retry result, got %+v err=%v", res, err)
	}

	if _, err := svc.Retry(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.Retry(context.Background(), "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidateTable(t *testing.T) {
	if err := Validate(StreamRole, TypeRolePermissionGranted); err != nil {
		t.Fatalf("expected known pair, got %v", err)
	}
	if err := Validate("ghost", TypeRoleCreated); !errors.Is(err, ErrUnknownStreamType) {
		t.Fatalf("expected ErrUnknownStreamType, got %v", err)
	}
	if err := Validate(StreamRole, TypeInvitationSent); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
	if n := len(KnownStreamTypes()); n != 10 {
		t.Fatalf("expected 10 registered stream types, got %d", n)
	}
}
