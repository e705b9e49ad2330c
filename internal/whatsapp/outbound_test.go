package whatsapp

import (
	"context"
	"errors"
	"testing"

	"soporte_wa/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedFixture(t *testing.T) (*managerFixture, *MockSession) {
	t.Helper()
	f := newManagerFixture(t, fastOptions(), connectOK)
	media, err := NewFileMediaStore(t.TempDir())
	require.NoError(t, err)
	f.m.media = media

	_, err = f.m.Start(context.Background(), "a1", "Ana")
	require.NoError(t, err)
	f.barrier(t, "a1")
	require.True(t, f.m.IsConnected("a1"))
	return f, f.factory.Last()
}

func TestSendRequiresConnectedInstance(t *testing.T) {
	f := newManagerFixture(t, fastOptions(), nil)
	ctx := context.Background()

	_, err := f.m.SendMessage(ctx, "nobody", "120", "hola", SendOptions{})
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	assert.True(t, IsUnavailable(err))
	assert.EqualError(t, err, "transport unavailable: instance not available")

	_, err = f.m.Start(ctx, "a1", "Ana")
	require.NoError(t, err)
	_, err = f.m.SendMessage(ctx, "a1", "120", "hola", SendOptions{})
	assert.ErrorIs(t, err, ErrInstanceNotConnected)
	assert.True(t, IsUnavailable(err))

	assert.Empty(t, f.conv.entries, "failed sends are not logged")
}

func TestSendMessageLogsAgentEntry(t *testing.T) {
	f, sess := connectedFixture(t)

	rcpt, err := f.m.SendMessage(context.Background(), "a1", "120-group", "en camino",
		SendOptions{AuthorName: "Ana", ReplyTo: &MessageRef{ID: "m9", Sender: "5215550009@s.whatsapp.net"}})
	require.NoError(t, err)

	sent := sess.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "120-group@g.us", sent[0].ChatID)
	assert.Equal(t, "en camino", sent[0].Payload.(TextPayload).Text)

	agents := f.conv.byRole(models.RoleAgent)
	require.Len(t, agents, 1)
	e := agents[0]
	assert.Equal(t, rcpt.MessageID, e.MessageID)
	assert.Equal(t, "120-group", e.ContactID)
	assert.Equal(t, "Ana", e.AuthorName)
	assert.Equal(t, "m9", e.InReplyToMessageID)
	require.NotNil(t, e.DeliveryStatus)
	assert.Equal(t, models.DeliverySent, *e.DeliveryStatus)
}

func TestSendFailurePropagates(t *testing.T) {
	f, sess := connectedFixture(t)
	sess.SendErr = errors.New("server returned error 479")

	_, err := f.m.SendMessage(context.Background(), "a1", "120", "hola", SendOptions{})
	assert.Error(t, err)
	assert.False(t, IsUnavailable(err))
	assert.Empty(t, f.conv.byRole(models.RoleAgent))
}

func TestSendDocumentStoresCopy(t *testing.T) {
	f, sess := connectedFixture(t)

	_, err := f.m.SendDocument(context.Background(), "a1", "120", MediaUpload{
		Data: []byte("%PDF"), MimeType: "application/pdf", Filename: "cotizacion.pdf",
	}, SendOptions{})
	require.NoError(t, err)

	p := sess.Sent()[0].Payload.(MediaPayload)
	assert.Equal(t, MediaDocument, p.Kind)

	e := f.conv.byRole(models.RoleAgent)[0]
	assert.Equal(t, "[Document: cotizacion.pdf]", e.Text)
	assert.True(t, e.HasMedia)
	assert.Contains(t, e.Media.Filename, ".pdf")
	data, err := f.m.media.Open(e.Media.URI)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
}

func TestReactionPresenceAndReadAreNotLogged(t *testing.T) {
	f, sess := connectedFixture(t)
	ctx := context.Background()

	require.NoError(t, f.m.React(ctx, "a1", "120", MessageRef{ID: "m1", Sender: "5215550009@s.whatsapp.net"}, "👍"))
	require.NoError(t, f.m.SetPresence(ctx, "a1", "120", PresenceComposing))
	require.NoError(t, f.m.MarkRead(ctx, "a1", "120", "5215550009@s.whatsapp.net", []string{"m1", "m2"}))

	assert.Len(t, sess.Sent(), 1)
	assert.Equal(t, []Presence{PresenceComposing}, sess.Presence())
	assert.Equal(t, []string{"m1", "m2"}, sess.Reads())
	assert.Empty(t, f.conv.byRole(models.RoleAgent))
}

func TestForwardResendsLoggedMessage(t *testing.T) {
	f, sess := connectedFixture(t)
	ctx := context.Background()

	_, err := f.m.Forward(ctx, "a1", "120", "unknown", SendOptions{})
	assert.ErrorIs(t, err, ErrMessageNotFound)

	require.NoError(t, f.conv.Append(ctx, &models.ConversationLog{Role: models.RoleClient, AgentID: "a1", MessageID: "src", Text: "precio?"}))
	_, err = f.m.Forward(ctx, "a1", "130", "src", SendOptions{AuthorName: "Ana"})
	require.NoError(t, err)

	p := sess.Sent()[0].Payload.(TextPayload)
	assert.True(t, p.Forwarded)
	assert.Equal(t, "precio?", p.Text)

	e := f.conv.byRole(models.RoleAgent)[0]
	assert.True(t, e.Forwarded)
	assert.Equal(t, "130", e.ContactID)
}

func TestForwardRejectsOtherAgentsMessage(t *testing.T) {
	f, sess := connectedFixture(t)
	ctx := context.Background()

	require.NoError(t, f.conv.Append(ctx, &models.ConversationLog{Role: models.RoleAgent, AgentID: "b2", ContactID: "140", MessageID: "theirs", Text: "private"}))
	_, err := f.m.Forward(ctx, "a1", "120", "theirs", SendOptions{})
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.Empty(t, sess.Sent())
	assert.Len(t, f.conv.byRole(models.RoleAgent), 1, "only the seeded entry")
}

func TestSendAutomatedUsesBotRole(t *testing.T) {
	f, _ := connectedFixture(t)

	_, err := f.m.SendAutomated(context.Background(), "a1", "120", "seguimos?")
	require.NoError(t, err)
	bots := f.conv.byRole(models.RoleBot)
	require.Len(t, bots, 1)
	assert.Equal(t, "seguimos?", bots[0].Text)
}
