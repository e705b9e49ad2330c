package services

import (
	"context"
	"errors"
	"time"

	"soporte_wa/internal/models"

	"github.com/rs/zerolog"
)

// ErrForeignContact is returned when an agent acts on a contact owned by
// another agent
var ErrForeignContact = errors.New("contact belongs to another agent")

// AssignmentStore is the persistence of client assignments
type AssignmentStore interface {
	ClaimOrGet(ctx context.Context, candidate models.ClientAssignment) (models.ClientAssignment, bool, error)
	Touch(ctx context.Context, contactID, agentID, pictureRef string, at time.Time) (bool, error)
	Get(ctx context.Context, contactID string) (*models.ClientAssignment, error)
	ListByOwner(ctx context.Context, agentID string) ([]models.ClientAssignment, error)
	Delete(ctx context.Context, contactID string) error
	DeleteByOwner(ctx context.Context, agentID string) (int64, error)
}

// AssignmentService is the registry binding each contact to one agent
type AssignmentService struct {
	store AssignmentStore
	log   zerolog.Logger
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(store AssignmentStore, log zerolog.Logger) *AssignmentService {
	return &AssignmentService{store: store, log: log.With().Str("component", "assignments").Logger()}
}

// ClaimOrGetOwner makes candidate the owner of its contact unless one
// already exists and returns the stored owner row. Concurrent first claims
// produce exactly one row.
func (s *AssignmentService) ClaimOrGetOwner(ctx context.Context, candidate models.ClientAssignment) (models.ClientAssignment, bool, error) {
	if candidate.LastMessageAt.IsZero() {
		candidate.LastMessageAt = time.Now()
	}
	row, created, err := s.store.ClaimOrGet(ctx, candidate)
	if err != nil {
		return row, false, err
	}
	if created {
		s.log.Info().Str("contact_id", row.ContactID).Str("agent_id", row.OwnerAgentID).Msg("contact assigned")
	}
	return row, created, nil
}

// Touch records activity on the contact. It is a no-op unless agentID owns it.
func (s *AssignmentService) Touch(ctx context.Context, contactID, agentID, pictureRef string, at time.Time) (bool, error) {
	return s.store.Touch(ctx, contactID, agentID, pictureRef, at)
}

// Get returns the contact's assignment or nil
func (s *AssignmentService) Get(ctx context.Context, contactID string) (*models.ClientAssignment, error) {
	return s.store.Get(ctx, contactID)
}

// ListForAgent returns the agent's contacts, most recently active first
func (s *AssignmentService) ListForAgent(ctx context.Context, agentID string) ([]models.ClientAssignment, error) {
	rows, err := s.store.ListByOwner(ctx, agentID)
	if rows == nil && err == nil {
		rows = []models.ClientAssignment{}
	}
	return rows, err
}

// CheckOwner fails with ErrForeignContact when another agent owns the
// contact. Unassigned contacts pass.
func (s *AssignmentService) CheckOwner(ctx context.Context, contactID, agentID string) error {
	row, err := s.store.Get(ctx, contactID)
	if err != nil {
		return err
	}
	if row != nil && row.OwnerAgentID != agentID {
		return ErrForeignContact
	}
	return nil
}

// Release removes the contact's assignment
func (s *AssignmentService) Release(ctx context.Context, contactID string) error {
	return s.store.Delete(ctx, contactID)
}

// ReleaseAgent removes every assignment of the agent
func (s *AssignmentService) ReleaseAgent(ctx context.Context, agentID string) (int64, error) {
	n, err := s.store.DeleteByOwner(ctx, agentID)
	if err == nil && n > 0 {
		s.log.Info().Str("agent_id", agentID).Int64("released", n).Msg("assignments released")
	}
	return n, err
}
