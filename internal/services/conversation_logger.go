package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"soporte_wa/internal/models"

	"github.com/rs/zerolog"
)

// DefaultLogPageSize bounds a day listing when no limit is given
const DefaultLogPageSize = 1000

// ConversationStore is the persistence of conversation entries
type ConversationStore interface {
	Insert(ctx context.Context, entry *models.ConversationLog) error
	ByContact(ctx context.Context, contactID string) ([]models.ConversationLog, error)
	Between(ctx context.Context, from, to time.Time, limit, offset int) ([]models.ConversationLog, error)
	FindByMessageID(ctx context.Context, messageID string) (*models.ConversationLog, error)
	UpdateDeliveryStatus(ctx context.Context, messageID, status string, from []string) (int64, error)
	DeleteByContact(ctx context.Context, contactID string) (int64, error)
	Dates(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, from, to time.Time) (models.LogStats, error)
}

// ConversationLogger appends conversation entries. An entry whose insert
// fails is kept for one more attempt and dropped if that fails too.
type ConversationLogger struct {
	store ConversationStore
	log   zerolog.Logger
	now   func() time.Time
	loc   *time.Location

	mu      sync.Mutex
	pending []*models.ConversationLog
	kick    chan struct{}
}

// NewConversationLogger creates a logger over store. Days are cut in loc.
func NewConversationLogger(store ConversationStore, loc *time.Location, log zerolog.Logger) *ConversationLogger {
	if loc == nil {
		loc = time.Local
	}
	return &ConversationLogger{
		store: store,
		log:   log.With().Str("component", "conversation_log").Logger(),
		now:   time.Now,
		loc:   loc,
		kick:  make(chan struct{}, 1),
	}
}

// Append stores entry. On failure the entry is queued for a retry and
// the insert error is returned.
func (l *ConversationLogger) Append(ctx context.Context, entry *models.ConversationLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	err := l.store.Insert(ctx, entry)
	if err == nil {
		return nil
	}

	l.mu.Lock()
	l.pending = append(l.pending, entry)
	l.mu.Unlock()
	select {
	case l.kick <- struct{}{}:
	default:
	}

	l.log.Warn().Err(err).Str("contact_id", entry.ContactID).Str("role", entry.Role).Msg("log entry queued for retry")
	return err
}

// Pending returns the number of entries waiting for their retry
func (l *ConversationLogger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// RetryPending makes the single retry pass over queued entries
func (l *ConversationLogger) RetryPending(ctx context.Context) (stored, dropped int) {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, entry := range batch {
		entry.ID = 0
		if err := l.store.Insert(ctx, entry); err != nil {
			dropped++
			l.log.Error().Err(err).
				Str("contact_id", entry.ContactID).
				Str("role", entry.Role).
				Time("entry_time", entry.Timestamp).
				Msg("log entry dropped after retry")
			continue
		}
		stored++
	}
	if stored > 0 {
		l.log.Info().Int("stored", stored).Msg("queued log entries stored")
	}
	return stored, dropped
}

// Run retries queued entries every interval and right after a failure,
// until ctx ends.
func (l *ConversationLogger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.kick:
		}
		if l.Pending() > 0 {
			l.RetryPending(ctx)
		}
	}
}

// ByContact returns a contact's conversation, oldest first
func (l *ConversationLogger) ByContact(ctx context.Context, contactID string) ([]models.ConversationLog, error) {
	return l.store.ByContact(ctx, contactID)
}

// ByDate returns one day of entries
func (l *ConversationLogger) ByDate(ctx context.Context, day time.Time, limit, offset int) ([]models.ConversationLog, error) {
	if limit <= 0 {
		limit = DefaultLogPageSize
	}
	if offset < 0 {
		offset = 0
	}
	from, to := l.dayBounds(day)
	return l.store.Between(ctx, from, to, limit, offset)
}

// AvailableDates lists the days with entries, newest first
func (l *ConversationLogger) AvailableDates(ctx context.Context) ([]string, error) {
	return l.store.Dates(ctx)
}

// Stats summarizes one day
func (l *ConversationLogger) Stats(ctx context.Context, day time.Time) (models.LogStats, error) {
	from, to := l.dayBounds(day)
	return l.store.Stats(ctx, from, to)
}

// ParseDay reads a YYYY-MM-DD day; empty means today
func (l *ConversationLogger) ParseDay(s string) (time.Time, error) {
	if s == "" {
		return l.now().In(l.loc), nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, l.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

func (l *ConversationLogger) FindByMessageID(ctx context.Context, messageID string) (*models.ConversationLog, error) {
	return l.store.FindByMessageID(ctx, messageID)
}

// UpdateDeliveryStatus moves a sent message forward to delivered or read.
// Stale receipts never move it back.
func (l *ConversationLogger) UpdateDeliveryStatus(ctx context.Context, messageID, status string) error {
	var from []string
	switch status {
	case models.DeliveryDelivered:
		from = []string{models.DeliverySent}
	case models.DeliveryRead:
		from = []string{models.DeliverySent, models.DeliveryDelivered}
	default:
		return fmt.Errorf("unsupported delivery status %q", status)
	}
	_, err := l.store.UpdateDeliveryStatus(ctx, messageID, status, from)
	return err
}

// DeleteContact purges a contact's conversation
func (l *ConversationLogger) DeleteContact(ctx context.Context, contactID string) (int64, error) {
	return l.store.DeleteByContact(ctx, contactID)
}

func (l *ConversationLogger) dayBounds(day time.Time) (time.Time, time.Time) {
	d := day.In(l.loc)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, l.loc)
	return from, from.AddDate(0, 0, 1)
}
