package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"soporte_wa/internal/models"
	"soporte_wa/internal/repo"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the next n inserts, then delegates
type flakyStore struct {
	ConversationStore
	mu    sync.Mutex
	fails int
}

func (s *flakyStore) Insert(ctx context.Context, e *models.ConversationLog) error {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return errors.New("database is locked")
	}
	s.mu.Unlock()
	return s.ConversationStore.Insert(ctx, e)
}

func newTestLogger(t *testing.T, fails int) (*ConversationLogger, *flakyStore) {
	t.Helper()
	store := &flakyStore{ConversationStore: repo.NewConversationLogRepository(setupTestDB(t)), fails: fails}
	return NewConversationLogger(store, time.UTC, zerolog.Nop()), store
}

func TestAppendRetriesOnce(t *testing.T) {
	l, _ := newTestLogger(t, 1)
	ctx := context.Background()

	err := l.Append(ctx, &models.ConversationLog{Role: models.RoleClient, ContactID: "120", Text: "hola"})
	require.Error(t, err)
	assert.Equal(t, 1, l.Pending())

	stored, dropped := l.RetryPending(ctx)
	assert.Equal(t, 1, stored)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 0, l.Pending())

	rows, err := l.ByContact(ctx, "120")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hola", rows[0].Text)
}

func TestAppendDropsAfterSecondFailure(t *testing.T) {
	l, _ := newTestLogger(t, 2)
	ctx := context.Background()

	require.Error(t, l.Append(ctx, &models.ConversationLog{Role: models.RoleClient, ContactID: "120", Text: "hola"}))
	stored, dropped := l.RetryPending(ctx)
	assert.Equal(t, 0, stored)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, l.Pending())

	stored, dropped = l.RetryPending(ctx)
	assert.Zero(t, stored+dropped)

	rows, err := l.ByContact(ctx, "120")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunFlushesAfterFailure(t *testing.T) {
	l, _ := newTestLogger(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, time.Hour)

	_ = l.Append(ctx, &models.ConversationLog{Role: models.RoleSystem, ContactID: "120", Text: "note"})
	assert.Eventually(t, func() bool {
		rows, err := l.ByContact(context.Background(), "120")
		return err == nil && len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestByDateAndStats(t *testing.T) {
	l, _ := newTestLogger(t, 0)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, e := range []models.ConversationLog{
		{Role: models.RoleClient, ContactID: "120", Text: "a", Timestamp: day.Add(9 * time.Hour)},
		{Role: models.RoleAgent, ContactID: "120", Text: "b", Timestamp: day.Add(10 * time.Hour)},
		{Role: models.RoleClient, ContactID: "130", Text: "c", Timestamp: day.Add(23 * time.Hour)},
		{Role: models.RoleClient, ContactID: "130", Text: "d", Timestamp: day.Add(25 * time.Hour)},
	} {
		e := e
		require.NoError(t, l.Append(ctx, &e))
	}

	rows, err := l.ByDate(ctx, day.Add(12*time.Hour), 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	page, err := l.ByDate(ctx, day, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)

	stats, err := l.Stats(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.UniqueContacts)
	assert.Equal(t, int64(2), stats.ByRole[models.RoleClient])

	dates, err := l.AvailableDates(ctx)
	require.NoError(t, err)
	assert.Len(t, dates, 2)
}

func TestParseDay(t *testing.T) {
	l, _ := newTestLogger(t, 0)

	d, err := l.ParseDay("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), d)

	_, err = l.ParseDay("01/03/2026")
	assert.Error(t, err)
}

func TestDeliveryStatusOnlyMovesForward(t *testing.T) {
	l, _ := newTestLogger(t, 0)
	ctx := context.Background()

	sent := models.DeliverySent
	require.NoError(t, l.Append(ctx, &models.ConversationLog{Role: models.RoleAgent, ContactID: "120", MessageID: "m1", DeliveryStatus: &sent}))

	require.NoError(t, l.UpdateDeliveryStatus(ctx, "m1", models.DeliveryRead))
	require.NoError(t, l.UpdateDeliveryStatus(ctx, "m1", models.DeliveryDelivered))

	e, err := l.FindByMessageID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, models.DeliveryRead, *e.DeliveryStatus)

	assert.Error(t, l.UpdateDeliveryStatus(ctx, "m1", "sending"))
}
