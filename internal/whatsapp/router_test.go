package whatsapp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"soporte_wa/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAssignments struct {
	mu      sync.Mutex
	rows    map[string]models.ClientAssignment
	touches int
	err     error
}

func (a *memAssignments) ClaimOrGetOwner(_ context.Context, c models.ClientAssignment) (models.ClientAssignment, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return models.ClientAssignment{}, false, a.err
	}
	if a.rows == nil {
		a.rows = map[string]models.ClientAssignment{}
	}
	if row, ok := a.rows[c.ContactID]; ok {
		return row, false, nil
	}
	a.rows[c.ContactID] = c
	return c, true, nil
}

func (a *memAssignments) Touch(_ context.Context, contactID, agentID, picture string, at time.Time) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row, ok := a.rows[contactID]
	if !ok || row.OwnerAgentID != agentID {
		return false, nil
	}
	row.LastMessageAt = at
	if picture != "" {
		row.PictureRef = picture
	}
	a.rows[contactID] = row
	a.touches++
	return true, nil
}

type recordingCanceller struct {
	cancelled []string
}

func (c *recordingCanceller) Cancel(_ context.Context, contactID, _ string) (bool, error) {
	c.cancelled = append(c.cancelled, contactID)
	return true, nil
}

type routerFixture struct {
	r         *Router
	assign    *memAssignments
	conv      *memConversations
	followups *recordingCanceller
	media     *FileMediaStore
	sess      *MockSession
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	media, err := NewFileMediaStore(t.TempDir())
	require.NoError(t, err)
	f := &routerFixture{
		assign:    &memAssignments{},
		conv:      &memConversations{},
		followups: &recordingCanceller{},
		media:     media,
		sess:      &MockSession{AgentID: "a1", Names: map[string]string{}},
	}
	f.r = NewRouter(RouterDeps{
		Assignments:   f.assign,
		Conversations: f.conv,
		FollowUps:     f.followups,
		Media:         media,
		Logger:        zerolog.Nop(),
	})
	f.sess.Group = GroupMetadata{Name: "Acme Support"}
	return f
}

func groupText(id, text string) InboundMessage {
	return InboundMessage{
		ID:        id,
		ChatID:    "120-group@g.us",
		Sender:    "5215550009@s.whatsapp.net",
		PushName:  "Carla",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Content:   &MessageContent{Conversation: text},
	}
}

func TestRouteFirstContact(t *testing.T) {
	f := newRouterFixture(t)

	out, err := f.r.Route(context.Background(), "A", f.sess, groupText("m1", "hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLogged, out)

	row := f.assign.rows["120-group"]
	assert.Equal(t, "A", row.OwnerAgentID)
	assert.Equal(t, "Acme Support", row.DisplayName)

	clients := f.conv.byRole(models.RoleClient)
	require.Len(t, clients, 1)
	assert.Equal(t, "hola", clients[0].Text)
	assert.Equal(t, "Carla", clients[0].AuthorName)
	assert.Equal(t, "5215550009", clients[0].Participant)
	assert.True(t, clients[0].IsGroup)

	systems := f.conv.byRole(models.RoleSystem)
	require.Len(t, systems, 1)
	assert.Contains(t, systems[0].Text, "awaiting human response")
	assert.Equal(t, []string{"120-group"}, f.followups.cancelled)
	assert.Equal(t, 0, f.assign.touches, "a new row needs no touch")
}

func TestRouteForeignContactDropped(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	_, err := f.r.Route(ctx, "A", f.sess, groupText("m1", "hola"))
	require.NoError(t, err)
	before := len(f.conv.entries)

	out, err := f.r.Route(ctx, "B", f.sess, groupText("m2", "otra vez"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeForeign, out)
	assert.Len(t, f.conv.entries, before)
	assert.Equal(t, "A", f.assign.rows["120-group"].OwnerAgentID)
	assert.Equal(t, 0, f.assign.touches)
}

func TestRouteOwnerTouchesAssignment(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	_, err := f.r.Route(ctx, "A", f.sess, groupText("m1", "hola"))
	require.NoError(t, err)
	f.sess.Picture = "https://pps.example/pic.jpg"
	later := groupText("m2", "sigo aqui")
	later.Timestamp = later.Timestamp.Add(time.Hour)

	out, err := f.r.Route(ctx, "A", f.sess, later)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLogged, out)
	assert.Equal(t, 1, f.assign.touches)
	assert.Equal(t, later.Timestamp, f.assign.rows["120-group"].LastMessageAt)
	assert.Equal(t, "https://pps.example/pic.jpg", f.assign.rows["120-group"].PictureRef)
}

func TestRouteIgnoresOutOfScopeMessages(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	own := groupText("m1", "hola")
	own.FromMe = true
	empty := groupText("m2", "")
	empty.Content = nil
	direct := groupText("m3", "hola")
	direct.ChatID = "5215550009@s.whatsapp.net"
	blank := groupText("m4", "")

	tests := []struct {
		name string
		msg  InboundMessage
		want Outcome
	}{
		{"self", own, OutcomeIgnored},
		{"no payload", empty, OutcomeIgnored},
		{"direct", direct, OutcomeDirect},
		{"nothing to log", blank, OutcomeEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.r.Route(ctx, "A", f.sess, tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
	assert.Empty(t, f.conv.entries)
	assert.Empty(t, f.assign.rows)
}

func TestRouteDropsRedelivery(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	_, err := f.r.Route(ctx, "A", f.sess, groupText("m1", "hola"))
	require.NoError(t, err)
	out, err := f.r.Route(ctx, "A", f.sess, groupText("m1", "hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Len(t, f.conv.byRole(models.RoleClient), 1)
}

func TestRouteStoreFailureAllowsRedelivery(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	f.assign.err = errors.New("database is locked")

	_, err := f.r.Route(ctx, "A", f.sess, groupText("m1", "hola"))
	require.Error(t, err)

	f.assign.err = nil
	out, err := f.r.Route(ctx, "A", f.sess, groupText("m1", "hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLogged, out)
}

func TestRouteMentionResolution(t *testing.T) {
	f := newRouterFixture(t)
	f.sess.Group.Participants = []Participant{
		{ID: "5215551111@s.whatsapp.net", DisplayName: "Luis"},
		{ID: "88123@lid", AltID: "5215552222@s.whatsapp.net", DisplayName: "Marta"},
	}
	f.sess.Names["5215553333"] = "Pedro"

	msg := groupText("m1", "")
	msg.Content = &MessageContent{
		ExtendedText: "hola @5215551111 @5215552222 @5215553333 @5215554444",
		Context: &MessageContext{MentionedIDs: []string{
			"5215551111@s.whatsapp.net",
			"5215552222@s.whatsapp.net",
			"5215553333@s.whatsapp.net",
			"5215554444@s.whatsapp.net",
		}},
	}

	_, err := f.r.Route(context.Background(), "A", f.sess, msg)
	require.NoError(t, err)

	text := f.conv.byRole(models.RoleClient)[0].Text
	assert.True(t, strings.HasPrefix(text, "hola @Luis @Marta @Pedro @4444"), text)
	assert.Contains(t, text, "[unresolved mentions: @4444]")
	assert.NotContains(t, text, "5215554444")
}

func TestReplaceMentionShortForm(t *testing.T) {
	text, ok := replaceMention("hey @5551234567", "525551234567", "Ana")
	assert.True(t, ok)
	assert.Equal(t, "hey @Ana", text)

	_, ok = replaceMention("hey there", "525551234567", "Ana")
	assert.False(t, ok)
}

func TestRouteQuotedAndForwarded(t *testing.T) {
	f := newRouterFixture(t)
	msg := groupText("m1", "")
	msg.Content = &MessageContent{
		ExtendedText: "respuesta",
		Context: &MessageContext{
			Forwarded:         true,
			QuotedID:          "q1",
			QuotedParticipant: "5215550001:3@s.whatsapp.net",
			QuotedText:        "pregunta",
		},
	}

	_, err := f.r.Route(context.Background(), "A", f.sess, msg)
	require.NoError(t, err)

	e := f.conv.byRole(models.RoleClient)[0]
	assert.True(t, e.Forwarded)
	assert.True(t, e.HasQuoted)
	assert.Equal(t, "q1", e.InReplyToMessageID)
	assert.Equal(t, models.QuotedMessage{Text: "pregunta", Participant: "5215550001", MessageID: "q1"}, e.Quoted)
}

func TestRouteStoresMedia(t *testing.T) {
	f := newRouterFixture(t)
	f.sess.MediaData = []byte("jpegbytes")
	msg := groupText("m1", "")
	msg.Content = &MessageContent{Media: &InboundMedia{Kind: MediaImage, Caption: "factura"}}

	out, err := f.r.Route(context.Background(), "A", f.sess, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLogged, out)

	e := f.conv.byRole(models.RoleClient)[0]
	assert.Equal(t, "factura", e.Text)
	require.True(t, e.HasMedia)
	assert.Equal(t, "image", e.Media.Type)
	assert.Equal(t, "image/jpeg", e.Media.MimeType)
	assert.Equal(t, "/media/images/"+e.Media.Filename, e.Media.URI)

	data, err := f.media.Open(e.Media.URI)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegbytes"), data)
	assert.True(t, strings.HasPrefix(f.conv.byRole(models.RoleSystem)[0].Text, "[media]"))
}

func TestRouteKeepsDescriptorWhenDownloadFails(t *testing.T) {
	f := newRouterFixture(t)
	f.sess.MediaErr = errors.New("media expired")
	msg := groupText("m1", "")
	msg.Content = &MessageContent{Media: &InboundMedia{Kind: MediaSticker}}

	out, err := f.r.Route(context.Background(), "A", f.sess, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLogged, out)

	e := f.conv.byRole(models.RoleClient)[0]
	assert.True(t, e.HasMedia)
	assert.Empty(t, e.Media.URI)
	assert.True(t, strings.HasSuffix(e.Media.Filename, ".webp"))
}

func TestRouteMetadataFailureFallsBack(t *testing.T) {
	f := newRouterFixture(t)
	f.sess.GroupErr = errors.New("not a participant")
	msg := groupText("m1", "hola")
	msg.PushName = ""

	_, err := f.r.Route(context.Background(), "A", f.sess, msg)
	require.NoError(t, err)

	assert.Equal(t, "120-group", f.assign.rows["120-group"].DisplayName)
	assert.Equal(t, "5215550009", f.conv.byRole(models.RoleClient)[0].AuthorName)
}
