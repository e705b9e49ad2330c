package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// PurgeResult reports what a purge removed
type PurgeResult struct {
	ContactID        string `json:"contact_id"`
	EntriesDeleted   int64  `json:"entries_deleted"`
	FollowUpCanceled bool   `json:"follow_up_canceled"`
}

// PurgeService deletes everything stored about a contact
type PurgeService struct {
	logs        *ConversationLogger
	assignments *AssignmentService
	followUps   *FollowUpScheduler
	log         zerolog.Logger
}

func NewPurgeService(logs *ConversationLogger, assignments *AssignmentService, followUps *FollowUpScheduler, log zerolog.Logger) *PurgeService {
	return &PurgeService{logs: logs, assignments: assignments, followUps: followUps, log: log}
}

// Purge discards the follow-up first so no escalation lands on a contact
// whose history is gone, then deletes the conversation and the assignment.
// The discard writes no system entry into the conversation being deleted.
func (s *PurgeService) Purge(ctx context.Context, contactID string) (PurgeResult, error) {
	res := PurgeResult{ContactID: contactID}

	canceled, err := s.followUps.Discard(ctx, contactID, "conversation deleted")
	if err != nil {
		return res, fmt.Errorf("cancel follow-up: %w", err)
	}
	res.FollowUpCanceled = canceled

	n, err := s.logs.DeleteContact(ctx, contactID)
	if err != nil {
		return res, fmt.Errorf("delete conversation: %w", err)
	}
	res.EntriesDeleted = n

	if err := s.assignments.Release(ctx, contactID); err != nil {
		return res, fmt.Errorf("release assignment: %w", err)
	}

	s.log.Info().Str("contact_id", contactID).Int64("entries", n).Bool("follow_up", canceled).Msg("conversation purged")
	return res, nil
}
