package whatsapp

import (
	"context"
	"fmt"
	"time"

	"soporte_wa/internal/dedupe"
	"soporte_wa/internal/events"
	"soporte_wa/internal/models"
	"soporte_wa/internal/telemetry"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is what routing did with an inbound message
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeDirect
	OutcomeDuplicate
	OutcomeEmpty
	OutcomeForeign
	OutcomeLogged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDirect:
		return "direct"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeEmpty:
		return "empty"
	case OutcomeForeign:
		return "foreign"
	case OutcomeLogged:
		return "logged"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// AssignmentRegistry binds contacts to their single owner
type AssignmentRegistry interface {
	// ClaimOrGetOwner creates the assignment for candidate unless one
	// exists, and returns the row that holds.
	ClaimOrGetOwner(ctx context.Context, candidate models.ClientAssignment) (models.ClientAssignment, bool, error)
	Touch(ctx context.Context, contactID, agentID, pictureRef string, at time.Time) (bool, error)
}

// FollowUpCanceller ends pending follow-ups of a contact
type FollowUpCanceller interface {
	Cancel(ctx context.Context, contactID, reason string) (bool, error)
}

// EntryAppender stores conversation entries
type EntryAppender interface {
	Append(ctx context.Context, entry *models.ConversationLog) error
}

// RouterDeps are the collaborators of a Router
type RouterDeps struct {
	Assignments   AssignmentRegistry
	Conversations EntryAppender
	FollowUps     FollowUpCanceller
	Media         MediaStore
	Dedupe        *dedupe.Cache
	Events        *events.Emitter
	Logger        zerolog.Logger
}

// Router normalizes inbound group messages, applies ownership and logs them
type Router struct {
	assignments AssignmentRegistry
	conv        EntryAppender
	followups   FollowUpCanceller
	media       MediaStore
	seen        *dedupe.Cache
	events      *events.Emitter
	log         zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

const unknownAuthor = "Unknown user"

// NewRouter creates a router. A nil Dedupe gets a ten minute cache.
func NewRouter(deps RouterDeps) *Router {
	seen := deps.Dedupe
	if seen == nil {
		seen = dedupe.New(10*time.Minute, 10000)
	}
	return &Router{
		assignments: deps.Assignments,
		conv:        deps.Conversations,
		followups:   deps.FollowUps,
		media:       deps.Media,
		seen:        seen,
		events:      deps.Events,
		log:         deps.Logger.With().Str("component", "router").Logger(),
		tracer:      telemetry.Tracer("router"),
		now:         time.Now,
	}
}

// Route handles one inbound message received by agentID's session
func (r *Router) Route(ctx context.Context, agentID string, sess Session, msg InboundMessage) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "router.route", trace.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("chat_id", msg.ChatID),
		attribute.String("message_id", msg.ID),
	))
	defer span.End()

	out, err := r.route(ctx, agentID, sess, msg)
	span.SetAttributes(attribute.String("outcome", out.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing failed")
	}
	return out, err
}

func (r *Router) route(ctx context.Context, agentID string, sess Session, msg InboundMessage) (Outcome, error) {
	if msg.FromMe || msg.Content == nil {
		return OutcomeIgnored, nil
	}
	if !IsGroupChat(msg.ChatID) {
		r.log.Debug().Str("agent_id", agentID).Str("chat_id", msg.ChatID).Msg("direct message ignored")
		return OutcomeDirect, nil
	}

	key := agentID + "|" + msg.ChatID + "|" + msg.ID
	if r.seen.Seen(key) {
		return OutcomeDuplicate, nil
	}

	contactID := ContactID(msg.ChatID)
	log := r.log.With().Str("agent_id", agentID).Str("contact_id", contactID).Str("message_id", msg.ID).Logger()
	content := msg.Content

	meta, metaErr := sess.GroupMetadata(ctx, msg.ChatID)
	if metaErr != nil {
		log.Debug().Err(metaErr).Msg("group metadata unavailable, using id")
		meta = GroupMetadata{}
	}

	text := content.Text()
	if content.Context != nil {
		text = r.resolveMentions(ctx, sess, text, content.Context.MentionedIDs, meta.Participants)
	}
	if text == "" && content.Media == nil {
		return OutcomeEmpty, nil
	}

	groupName := meta.Name
	if groupName == "" {
		groupName = contactID
	}
	picture, err := sess.ProfilePictureURL(ctx, msg.ChatID)
	if err != nil {
		log.Debug().Err(err).Msg("group picture unavailable")
		picture = ""
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = r.now()
	}

	owner, created, err := r.assignments.ClaimOrGetOwner(ctx, models.ClientAssignment{
		ContactID:     contactID,
		OwnerAgentID:  agentID,
		IsGroup:       true,
		DisplayName:   groupName,
		PictureRef:    picture,
		LastMessageAt: at,
	})
	if err != nil {
		r.seen.Forget(key)
		return OutcomeIgnored, fmt.Errorf("claim %s: %w", contactID, err)
	}
	if owner.OwnerAgentID != agentID {
		log.Debug().Str("owner_agent_id", owner.OwnerAgentID).Msg("contact owned by another agent, message dropped")
		return OutcomeForeign, nil
	}
	if created {
		log.Info().Str("group", groupName).Msg("contact assigned")
		r.events.Emit(ctx, events.AssignmentClaimed, agentID, events.Assignment{ContactID: contactID, DisplayName: groupName})
	}

	author := msg.PushName
	if author == "" {
		author = userPart(msg.Sender)
	}
	if author == "" {
		author = unknownAuthor
	}

	entry := &models.ConversationLog{
		Timestamp:   at,
		Role:        models.RoleClient,
		ContactID:   contactID,
		AgentID:     agentID,
		AuthorName:  author,
		Participant: userPart(msg.Sender),
		IsGroup:     true,
		Text:        text,
		MessageID:   msg.ID,
	}
	if c := content.Context; c != nil {
		entry.Forwarded = c.Forwarded
		if c.QuotedID != "" {
			entry.InReplyToMessageID = c.QuotedID
			entry.HasQuoted = true
			entry.Quoted = models.QuotedMessage{
				Text:        c.QuotedText,
				Participant: userPart(c.QuotedParticipant),
				MessageID:   c.QuotedID,
			}
		}
	}
	if content.Media != nil {
		entry.HasMedia = true
		entry.Media = r.storeMedia(ctx, sess, msg, contactID, at, log)
	}

	if err := r.conv.Append(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("client entry queued for retry")
	}
	if !created {
		if _, err := r.assignments.Touch(ctx, contactID, agentID, picture, at); err != nil {
			log.Warn().Err(err).Msg("assignment activity not updated")
		}
	}

	note := fmt.Sprintf("Message received in group %s from %s (%s), awaiting human response", groupName, author, userPart(msg.Sender))
	if content.Media != nil {
		note = "[media] " + note
	}
	if err := r.conv.Append(ctx, &models.ConversationLog{
		Timestamp: r.now(),
		Role:      models.RoleSystem,
		ContactID: contactID,
		AgentID:   agentID,
		IsGroup:   true,
		Text:      note,
	}); err != nil {
		log.Warn().Err(err).Msg("system entry queued for retry")
	}

	if r.followups != nil {
		if _, err := r.followups.Cancel(ctx, contactID, "client responded"); err != nil {
			log.Warn().Err(err).Msg("follow-up not cancelled")
		}
	}

	r.events.Emit(ctx, events.MessageInbound, agentID, events.Inbound{
		ContactID: contactID,
		MessageID: msg.ID,
		Author:    author,
		HasMedia:  content.Media != nil,
	})
	return OutcomeLogged, nil
}

// storeMedia downloads the attachment. A failed download still yields a
// descriptor, without URI.
func (r *Router) storeMedia(ctx context.Context, sess Session, msg InboundMessage, contactID string, at time.Time, log zerolog.Logger) models.MediaDescriptor {
	m := msg.Content.Media
	mime := m.MimeType
	if mime == "" {
		mime = defaultMime(m.Kind)
	}
	desc := models.MediaDescriptor{
		Type:     string(m.Kind),
		MimeType: mime,
		Filename: MediaFilename(contactID, m.Kind, mime, m.FileName, at),
		Caption:  m.Caption,
	}
	if r.media == nil {
		return desc
	}

	data, err := sess.DownloadMedia(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Str("kind", desc.Type).Msg("media download failed")
		return desc
	}
	uri, err := r.media.Save(m.Kind, desc.Filename, data)
	if err != nil {
		log.Warn().Err(err).Str("kind", desc.Type).Msg("media not stored")
		return desc
	}
	desc.URI = uri
	return desc
}
