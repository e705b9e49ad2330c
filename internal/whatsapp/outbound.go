package whatsapp

import (
	"context"
	"fmt"

	"soporte_wa/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SendOptions are the optional parts of an agent send
type SendOptions struct {
	ReplyTo    *MessageRef
	AuthorName string
}

// MediaUpload is an attachment sent by an agent
type MediaUpload struct {
	Data     []byte
	MimeType string
	Filename string
	Caption  string
}

// SendMessage sends text to a contact as the agent
func (m *Manager) SendMessage(ctx context.Context, agentID, contactID, text string, opts SendOptions) (Receipt, error) {
	p := TextPayload{Text: text, Reply: opts.ReplyTo}
	return m.deliver(ctx, agentID, contactID, p, func(e *models.ConversationLog) {
		e.Text = text
		e.AuthorName = opts.AuthorName
		e.InReplyToMessageID = replyID(opts.ReplyTo)
	})
}

func (m *Manager) SendImage(ctx context.Context, agentID, contactID string, up MediaUpload, opts SendOptions) (Receipt, error) {
	return m.sendMedia(ctx, agentID, contactID, MediaImage, up, false, opts, "[Image]")
}

func (m *Manager) SendVideo(ctx context.Context, agentID, contactID string, up MediaUpload, opts SendOptions) (Receipt, error) {
	return m.sendMedia(ctx, agentID, contactID, MediaVideo, up, false, opts, "[Video]")
}

// SendAudio sends an audio file, as a voice note when ptt is set
func (m *Manager) SendAudio(ctx context.Context, agentID, contactID string, up MediaUpload, ptt bool, opts SendOptions) (Receipt, error) {
	return m.sendMedia(ctx, agentID, contactID, MediaAudio, up, ptt, opts, "[Audio]")
}

func (m *Manager) SendDocument(ctx context.Context, agentID, contactID string, up MediaUpload, opts SendOptions) (Receipt, error) {
	return m.sendMedia(ctx, agentID, contactID, MediaDocument, up, false, opts, fmt.Sprintf("[Document: %s]", up.Filename))
}

func (m *Manager) SendSticker(ctx context.Context, agentID, contactID string, up MediaUpload, opts SendOptions) (Receipt, error) {
	up.Caption = ""
	return m.sendMedia(ctx, agentID, contactID, MediaSticker, up, false, opts, "[Sticker]")
}

func (m *Manager) sendMedia(ctx context.Context, agentID, contactID string, kind MediaKind, up MediaUpload, ptt bool, opts SendOptions, placeholder string) (Receipt, error) {
	if up.MimeType == "" {
		up.MimeType = defaultMime(kind)
	}
	p := MediaPayload{
		Kind:     kind,
		Data:     up.Data,
		MimeType: up.MimeType,
		Filename: up.Filename,
		Caption:  up.Caption,
		PTT:      ptt,
		Reply:    opts.ReplyTo,
	}
	return m.deliver(ctx, agentID, contactID, p, func(e *models.ConversationLog) {
		e.Text = up.Caption
		if e.Text == "" {
			e.Text = placeholder
		}
		e.AuthorName = opts.AuthorName
		e.InReplyToMessageID = replyID(opts.ReplyTo)
		e.HasMedia = true
		e.Media = models.MediaDescriptor{
			Type:     string(kind),
			MimeType: up.MimeType,
			Filename: MediaFilename(contactID, kind, up.MimeType, up.Filename, e.Timestamp),
			Caption:  up.Caption,
		}
		if m.media != nil {
			uri, err := m.media.Save(kind, e.Media.Filename, up.Data)
			if err != nil {
				m.log.Warn().Err(err).Str("contact_id", contactID).Msg("sent media not stored")
			}
			e.Media.URI = uri
		}
	})
}

// SendLocation sends a map pin
func (m *Manager) SendLocation(ctx context.Context, agentID, contactID string, loc LocationPayload, opts SendOptions) (Receipt, error) {
	return m.deliver(ctx, agentID, contactID, loc, func(e *models.ConversationLog) {
		e.Text = fmt.Sprintf("[Location: %.6f, %.6f]", loc.Latitude, loc.Longitude)
		if loc.Name != "" {
			e.Text = fmt.Sprintf("[Location: %s]", loc.Name)
		}
		e.AuthorName = opts.AuthorName
	})
}

// SendContact sends a contact card
func (m *Manager) SendContact(ctx context.Context, agentID, contactID string, card ContactPayload, opts SendOptions) (Receipt, error) {
	return m.deliver(ctx, agentID, contactID, card, func(e *models.ConversationLog) {
		e.Text = fmt.Sprintf("[Contact: %s]", card.DisplayName)
		e.AuthorName = opts.AuthorName
	})
}

// React puts an emoji reaction on a message. An empty emoji removes it.
// Reactions are not logged.
func (m *Manager) React(ctx context.Context, agentID, contactID string, target MessageRef, emoji string) error {
	_, err := m.deliver(ctx, agentID, contactID, ReactionPayload{Target: target, Emoji: emoji}, nil)
	return err
}

// Edit replaces the text of one of the agent's messages
func (m *Manager) Edit(ctx context.Context, agentID, contactID string, target MessageRef, text string, opts SendOptions) (Receipt, error) {
	return m.deliver(ctx, agentID, contactID, EditPayload{Target: target, Text: text}, func(e *models.ConversationLog) {
		e.Text = "[Edited] " + text
		e.AuthorName = opts.AuthorName
		e.InReplyToMessageID = target.ID
	})
}

// Delete revokes a message for everyone
func (m *Manager) Delete(ctx context.Context, agentID, contactID string, target MessageRef, opts SendOptions) (Receipt, error) {
	return m.deliver(ctx, agentID, contactID, RevokePayload{Target: target}, func(e *models.ConversationLog) {
		e.Text = "[Message deleted]"
		e.AuthorName = opts.AuthorName
		e.InReplyToMessageID = target.ID
	})
}

// Forward re-sends a logged message to a contact, marked as forwarded.
// Only entries logged through the same agent can be forwarded.
func (m *Manager) Forward(ctx context.Context, agentID, contactID, messageID string, opts SendOptions) (Receipt, error) {
	src, err := m.conv.FindByMessageID(ctx, messageID)
	if err != nil {
		return Receipt{}, err
	}
	if src == nil || src.AgentID != agentID {
		return Receipt{}, ErrMessageNotFound
	}

	var p Payload = TextPayload{Text: src.Text, Forwarded: true}
	if src.HasMedia {
		if m.media == nil || src.Media.URI == "" {
			return Receipt{}, fmt.Errorf("%w: media of %s was not stored", ErrMessageNotFound, messageID)
		}
		data, err := m.media.Open(src.Media.URI)
		if err != nil {
			return Receipt{}, fmt.Errorf("open forwarded media: %w", err)
		}
		p = MediaPayload{
			Kind:      MediaKind(src.Media.Type),
			Data:      data,
			MimeType:  src.Media.MimeType,
			Filename:  src.Media.Filename,
			Caption:   src.Media.Caption,
			Forwarded: true,
		}
	}

	return m.deliver(ctx, agentID, contactID, p, func(e *models.ConversationLog) {
		e.Text = src.Text
		if e.Text == "" {
			e.Text = "[Forwarded message]"
		}
		e.AuthorName = opts.AuthorName
		e.Forwarded = true
		e.HasMedia = src.HasMedia
		e.Media = src.Media
	})
}

// SendAutomated sends a bot authored text, logged with the bot role
func (m *Manager) SendAutomated(ctx context.Context, agentID, contactID, text string) (Receipt, error) {
	return m.deliver(ctx, agentID, contactID, TextPayload{Text: text}, func(e *models.ConversationLog) {
		e.Role = models.RoleBot
		e.Text = text
		e.AuthorName = "Bot"
	})
}

// MarkRead sends read receipts for messages of a contact. sender is the
// participant who wrote them.
func (m *Manager) MarkRead(ctx context.Context, agentID, contactID, sender string, messageIDs []string) error {
	sess, _, err := m.connectedSession(agentID)
	if err != nil {
		return err
	}
	return sess.MarkRead(ctx, ChatID(contactID), sender, messageIDs)
}

// SetPresence shows the agent as typing, recording or idle in a chat
func (m *Manager) SetPresence(ctx context.Context, agentID, contactID string, p Presence) error {
	sess, _, err := m.connectedSession(agentID)
	if err != nil {
		return err
	}
	return sess.SendPresence(ctx, ChatID(contactID), p)
}

// deliver sends p and, when fill is set, logs the result. Nothing is
// logged for a failed send.
func (m *Manager) deliver(ctx context.Context, agentID, contactID string, p Payload, fill func(*models.ConversationLog)) (Receipt, error) {
	ctx, span := m.tracer.Start(ctx, "whatsapp.send", trace.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("contact_id", contactID),
		attribute.String("kind", p.payloadKind()),
	))
	defer span.End()

	sess, _, err := m.connectedSession(agentID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Receipt{}, err
	}

	chatID := ChatID(contactID)
	rcpt, err := sess.Send(ctx, chatID, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return Receipt{}, fmt.Errorf("send %s: %w", p.payloadKind(), err)
	}
	span.SetAttributes(attribute.String("message_id", rcpt.MessageID))

	if fill != nil {
		m.record(ctx, agentID, chatID, rcpt, fill)
	}
	return rcpt, nil
}

func (m *Manager) record(ctx context.Context, agentID, chatID string, rcpt Receipt, fill func(*models.ConversationLog)) {
	at := rcpt.Timestamp
	if at.IsZero() {
		at = m.now()
	}
	sent := models.DeliverySent
	e := &models.ConversationLog{
		Timestamp:      at,
		Role:           models.RoleAgent,
		ContactID:      ContactID(chatID),
		AgentID:        agentID,
		IsGroup:        IsGroupChat(chatID),
		MessageID:      rcpt.MessageID,
		DeliveryStatus: &sent,
	}
	fill(e)
	if err := m.conv.Append(ctx, e); err != nil {
		m.log.Warn().Err(err).Str("agent_id", agentID).Str("message_id", rcpt.MessageID).Msg("sent message queued for logging retry")
	}
}

func replyID(ref *MessageRef) string {
	if ref == nil {
		return ""
	}
	return ref.ID
}
