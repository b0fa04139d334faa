// Package accountability tracks which principal is responsible for a client
// or schedule. Accountability is a flat association: it is queried by exact
// subject, never through scope-path containment, and access policies never
// consult it. Capability (can-access) and accountability (responsible-for)
// are permanently separate data paths.
package accountability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SubjectType enumerates the workflow subjects a principal can own.
type SubjectType string

const (
	SubjectClient   SubjectType = "client"
	SubjectSchedule SubjectType = "schedule"
)

var (
	ErrInvalidInput = errors.New("accountability: invalid input")
	ErrNotFound     = errors.New("accountability: not found")
)

// Assignment associates a user with a subject they are accountable for.
// There is intentionally no scope column: a client's location does not
// cascade accountability to child scopes.
type Assignment struct {
	UserID      string      `json:"user_id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id"`
	AssignedAt  time.Time   `json:"assigned_at"`
}

// Store persists accountability assignments.
type Store interface {
	Assign(ctx context.Context, a Assignment) error
	Unassign(ctx context.Context, userID string, subjectType SubjectType, subjectID string) error
	ListForUser(ctx context.Context, userID string) ([]Assignment, error)
	ListForSubject(ctx context.Context, subjectType SubjectType, subjectID string) ([]Assignment, error)
}

// Service validates and forwards accountability operations.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("accountability store is required")
	}
	return &Service{store: store, now: time.Now}, nil
}

func validSubjectType(st SubjectType) bool {
	return st == SubjectClient || st == SubjectSchedule
}

// Assign records that the user is accountable for the subject.
func (s *Service) Assign(ctx context.Context, userID string, subjectType SubjectType, subjectID string) (Assignment, error) {
	userID = strings.TrimSpace(userID)
	subjectID = strings.TrimSpace(subjectID)
	if userID == "" || subjectID == "" {
		return Assignment{}, fmt.Errorf("%w: user_id and subject_id are required", ErrInvalidInput)
	}
	if !validSubjectType(subjectType) {
		return Assignment{}, fmt.Errorf("%w: unsupported subject type %q", ErrInvalidInput, subjectType)
	}
	a := Assignment{
		UserID:      userID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		AssignedAt:  s.now().UTC(),
	}
	if err := s.store.Assign(ctx, a); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// Unassign removes the association.
func (s *Service) Unassign(ctx context.Context, userID string, subjectType SubjectType, subjectID string) error {
	userID = strings.TrimSpace(userID)
	subjectID = strings.TrimSpace(subjectID)
	if userID == "" || subjectID == "" {
		return fmt.Errorf("%w: user_id and subject_id are required", ErrInvalidInput)
	}
	if !validSubjectType(subjectType) {
		return fmt.Errorf("%w: unsupported subject type %q", ErrInvalidInput, subjectType)
	}
	return s.store.Unassign(ctx, userID, subjectType, subjectID)
}

// ListForUser returns every subject the user is accountable for.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Assignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.ListForUser(ctx, userID)
}

// ListForSubject returns every user accountable for the subject.
func (s *Service) ListForSubject(ctx context.Context, subjectType SubjectType, subjectID string) ([]Assignment, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrInvalidInput)
	}
	if !validSubjectType(subjectType) {
		return nil, fmt.Errorf("%w: unsupported subject type %q", ErrInvalidInput, subjectType)
	}
	return s.store.ListForSubject(ctx, subjectType, subjectID)
}
