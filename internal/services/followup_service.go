package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"soporte_wa/internal/events"
	"soporte_wa/internal/models"
	"soporte_wa/internal/whatsapp"

	"github.com/rs/zerolog"
)

// Classifier outputs consumed by ApplyClassification
const (
	ClassificationAccepted   = "accepted"
	ClassificationRejected   = "rejected"
	ClassificationFrustrated = "frustrated"
	ClassificationContinue   = "continue"
)

var ErrInvalidClassification = errors.New("invalid classification")

// DefaultFollowUpTemplates are sent in order, the last one repeating
var DefaultFollowUpTemplates = []string{
	"Hi again 👋\n\nLooks like we left things on pause.\n\nAre you still interested in growing your support capacity?\n\nIf now is not a good time, let me know and I'll reach out later.",
	"Hello again\n\nI understand you're busy.\n\nJust a reminder that every day without this you keep losing leads.\n\nWould a 20 minute call this week work for you?",
	"Last message\n\nI don't want to flood you, but I wanted to give you one last chance.\n\nIf you're not interested that's fine, just tell me and I won't bother you again.\n\nWhat do you say?",
}

// DefaultFarewell closes an exhausted follow-up
const DefaultFarewell = "Thank you for your time\n\nI'm still available if you ever need to grow your support capacity\n\nBest of luck! 👍"

// FollowUpStore is the persistence of follow-ups
type FollowUpStore interface {
	Upsert(ctx context.Context, f *models.FollowUp) error
	Update(ctx context.Context, f *models.FollowUp) error
	Delete(ctx context.Context, contactID string) error
	List(ctx context.Context) ([]models.FollowUp, error)
}

// AutomatedSender delivers bot messages through the owning agent's instance
type AutomatedSender interface {
	SendAutomated(ctx context.Context, agentID, contactID, text string) (whatsapp.Receipt, error)
}

// FollowUpOptions is the escalation policy
type FollowUpOptions struct {
	CheckInterval time.Duration
	Interval      time.Duration
	PostponeDelay time.Duration
	MaxAttempts   int
	Templates     []string
	Farewell      string
}

// DefaultFollowUpOptions returns the hourly check, daily escalation policy
func DefaultFollowUpOptions() FollowUpOptions {
	return FollowUpOptions{
		CheckInterval: time.Hour,
		Interval:      24 * time.Hour,
		PostponeDelay: 5 * time.Minute,
		MaxAttempts:   3,
		Templates:     DefaultFollowUpTemplates,
		Farewell:      DefaultFarewell,
	}
}

// FollowUpScheduler sends escalating messages to contacts that went silent.
// The live set mirrors the store; store writes happen under the same lock
// as the matching in-memory change.
type FollowUpScheduler struct {
	opts   FollowUpOptions
	store  FollowUpStore
	logs   whatsapp.EntryAppender
	events *events.Emitter
	log    zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	active map[string]models.FollowUp
}

// NewFollowUpScheduler creates a scheduler. Zero option fields take defaults.
func NewFollowUpScheduler(store FollowUpStore, logs whatsapp.EntryAppender, emitter *events.Emitter, opts FollowUpOptions, log zerolog.Logger) *FollowUpScheduler {
	def := DefaultFollowUpOptions()
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = def.CheckInterval
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.PostponeDelay <= 0 {
		opts.PostponeDelay = def.PostponeDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if len(opts.Templates) == 0 {
		opts.Templates = def.Templates
	}
	if opts.Farewell == "" {
		opts.Farewell = def.Farewell
	}
	return &FollowUpScheduler{
		opts:   opts,
		store:  store,
		logs:   logs,
		events: emitter,
		log:    log.With().Str("component", "followups").Logger(),
		now:    time.Now,
		active: make(map[string]models.FollowUp),
	}
}

// Load fills the live set from the store. Rows at the attempt limit are
// kept since their farewell is still owed.
func (s *FollowUpScheduler) Load(ctx context.Context) (int, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	for _, row := range rows {
		s.active[row.ContactID] = row
	}
	s.mu.Unlock()
	s.log.Info().Int("count", len(rows)).Msg("follow-ups loaded")
	return len(rows), nil
}

// Start creates or restarts the follow-up of a contact
func (s *FollowUpScheduler) Start(ctx context.Context, contactID, agentID string) (models.FollowUp, error) {
	if contactID == "" || agentID == "" {
		return models.FollowUp{}, fmt.Errorf("contact id and agent id are required")
	}
	now := s.now()
	row := models.FollowUp{
		ContactID:    contactID,
		OwnerAgentID: agentID,
		NextDueAt:    now.Add(s.opts.Interval),
		AttemptCount: 0,
		StartedAt:    now,
	}

	s.mu.Lock()
	if err := s.store.Upsert(ctx, &row); err != nil {
		s.mu.Unlock()
		return models.FollowUp{}, err
	}
	s.active[contactID] = row
	s.mu.Unlock()

	s.system(ctx, row, fmt.Sprintf("Follow-up started, next message at %s", row.NextDueAt.Format(time.RFC3339)))
	s.log.Info().Str("contact_id", contactID).Str("agent_id", agentID).Time("next_due_at", row.NextDueAt).Msg("follow-up started")
	return row, nil
}

// Cancel ends the contact's follow-up. Cancelling an absent follow-up is a
// no-op reporting false.
func (s *FollowUpScheduler) Cancel(ctx context.Context, contactID, reason string) (bool, error) {
	return s.cancel(ctx, contactID, reason, true)
}

// Discard ends the contact's follow-up without writing a system entry to
// the conversation. Used when the conversation itself is being removed.
func (s *FollowUpScheduler) Discard(ctx context.Context, contactID, reason string) (bool, error) {
	return s.cancel(ctx, contactID, reason, false)
}

// CancelByOwner ends every follow-up targeting the agent and returns how
// many were cancelled
func (s *FollowUpScheduler) CancelByOwner(ctx context.Context, agentID, reason string) (int, error) {
	s.mu.Lock()
	var ids []string
	for id, row := range s.active {
		if row.OwnerAgentID == agentID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, id := range ids {
		ok, err := s.cancel(ctx, id, reason, true)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *FollowUpScheduler) cancel(ctx context.Context, contactID, reason string, note bool) (bool, error) {
	s.mu.Lock()
	row, ok := s.active[contactID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	if err := s.store.Delete(ctx, contactID); err != nil {
		s.mu.Unlock()
		return false, err
	}
	delete(s.active, contactID)
	s.mu.Unlock()

	if note {
		s.system(ctx, row, "Follow-up cancelled: "+reason)
	}
	s.events.Emit(ctx, events.FollowUpClosed, row.OwnerAgentID, events.FollowUp{
		ContactID: contactID, Attempt: row.AttemptCount, Reason: reason,
	})
	s.log.Info().Str("contact_id", contactID).Str("reason", reason).Msg("follow-up cancelled")
	return true, nil
}

// ApplyClassification consumes the classifier verdict on the contact's last
// message. Accepted, rejected and frustrated end the follow-up.
func (s *FollowUpScheduler) ApplyClassification(ctx context.Context, contactID, status string) (bool, error) {
	switch status {
	case ClassificationAccepted, ClassificationRejected, ClassificationFrustrated:
		return s.Cancel(ctx, contactID, "classified as "+status)
	case ClassificationContinue:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidClassification, status)
	}
}

// Get returns the contact's active follow-up
func (s *FollowUpScheduler) Get(contactID string) (models.FollowUp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.active[contactID]
	return row, ok
}

// Has reports whether the contact has an active follow-up
func (s *FollowUpScheduler) Has(contactID string) bool {
	_, ok := s.Get(contactID)
	return ok
}

// List returns the active follow-ups, soonest first
func (s *FollowUpScheduler) List() []models.FollowUp {
	s.mu.Lock()
	rows := make([]models.FollowUp, 0, len(s.active))
	for _, row := range s.active {
		rows = append(rows, row)
	}
	s.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].NextDueAt.Before(rows[j].NextDueAt) })
	return rows
}

// Run ticks every CheckInterval until ctx ends
func (s *FollowUpScheduler) Run(ctx context.Context, sender AutomatedSender) {
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, sender)
		}
	}
}

// Tick processes every due follow-up once
func (s *FollowUpScheduler) Tick(ctx context.Context, sender AutomatedSender) {
	now := s.now()
	due := s.due(now)
	if len(due) > 0 {
		s.log.Debug().Int("due", len(due)).Int("active", len(s.List())).Msg("processing follow-ups")
	}
	for _, row := range due {
		if ctx.Err() != nil {
			return
		}
		if row.AttemptCount >= s.opts.MaxAttempts {
			s.close(ctx, sender, row)
			continue
		}
		s.escalate(ctx, sender, row, now)
	}
}

func (s *FollowUpScheduler) due(now time.Time) []models.FollowUp {
	var due []models.FollowUp
	for _, row := range s.List() {
		if !now.Before(row.NextDueAt) {
			due = append(due, row)
		}
	}
	return due
}

func (s *FollowUpScheduler) escalate(ctx context.Context, sender AutomatedSender, row models.FollowUp, now time.Time) {
	log := s.log.With().Str("contact_id", row.ContactID).Str("agent_id", row.OwnerAgentID).Logger()
	text := s.template(row.AttemptCount)

	_, err := sender.SendAutomated(ctx, row.OwnerAgentID, row.ContactID, text)
	switch {
	case whatsapp.IsUnavailable(err):
		row.NextDueAt = now.Add(s.opts.PostponeDelay)
		if _, perr := s.replace(ctx, row); perr != nil {
			log.Error().Err(perr).Msg("persist postponed follow-up")
		}
		log.Warn().Err(err).Time("next_due_at", row.NextDueAt).Msg("instance unavailable, follow-up postponed")
	case err != nil:
		log.Error().Err(err).Int("attempt", row.AttemptCount+1).Msg("follow-up send failed")
	default:
		row.AttemptCount++
		row.NextDueAt = now.Add(s.opts.Interval)
		current, perr := s.replace(ctx, row)
		if perr != nil {
			log.Error().Err(perr).Msg("persist follow-up")
		}
		if !current {
			return
		}
		s.system(ctx, row, fmt.Sprintf("Follow-up sent (attempt %d/%d)", row.AttemptCount, s.opts.MaxAttempts))
		s.events.Emit(ctx, events.FollowUpSent, row.OwnerAgentID, events.FollowUp{ContactID: row.ContactID, Attempt: row.AttemptCount})
		log.Info().Int("attempt", row.AttemptCount).Time("next_due_at", row.NextDueAt).Msg("follow-up sent")
	}
}

// close ends an exhausted follow-up. The farewell is best effort.
func (s *FollowUpScheduler) close(ctx context.Context, sender AutomatedSender, row models.FollowUp) {
	log := s.log.With().Str("contact_id", row.ContactID).Str("agent_id", row.OwnerAgentID).Logger()

	s.mu.Lock()
	cur, ok := s.active[row.ContactID]
	if !ok || !cur.StartedAt.Equal(row.StartedAt) {
		s.mu.Unlock()
		return
	}
	if err := s.store.Delete(ctx, row.ContactID); err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Msg("delete exhausted follow-up")
		return
	}
	delete(s.active, row.ContactID)
	s.mu.Unlock()

	s.system(ctx, row, "Follow-up closed: maximum attempts reached")
	if _, err := sender.SendAutomated(ctx, row.OwnerAgentID, row.ContactID, s.opts.Farewell); err != nil {
		log.Warn().Err(err).Msg("farewell not sent")
	}
	s.events.Emit(ctx, events.FollowUpClosed, row.OwnerAgentID, events.FollowUp{
		ContactID: row.ContactID, Attempt: row.AttemptCount, Reason: "max attempts",
	})
	log.Info().Int("attempts", row.AttemptCount).Msg("follow-up exhausted")
}

// replace stores row if the follow-up it came from is still the live one.
// A cancel or restart during the send wins.
func (s *FollowUpScheduler) replace(ctx context.Context, row models.FollowUp) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.active[row.ContactID]
	if !ok || !cur.StartedAt.Equal(row.StartedAt) {
		return false, nil
	}
	s.active[row.ContactID] = row
	return true, s.store.Update(ctx, &row)
}

func (s *FollowUpScheduler) template(attempts int) string {
	i := attempts
	if i >= len(s.opts.Templates) {
		i = len(s.opts.Templates) - 1
	}
	return s.opts.Templates[i]
}

func (s *FollowUpScheduler) system(ctx context.Context, row models.FollowUp, text string) {
	if s.logs == nil {
		return
	}
	_ = s.logs.Append(ctx, &models.ConversationLog{
		Role:      models.RoleSystem,
		ContactID: row.ContactID,
		AgentID:   row.OwnerAgentID,
		IsGroup:   true,
		Text:      text,
	})
}
