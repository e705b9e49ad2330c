package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// MeowFactory opens whatsmeow backed sessions
type MeowFactory struct {
	devices *DeviceStore
	log     zerolog.Logger
}

// NewMeowFactory creates a session factory over the credential store
func NewMeowFactory(devices *DeviceStore, log zerolog.Logger) *MeowFactory {
	return &MeowFactory{devices: devices, log: log.With().Str("component", "whatsmeow").Logger()}
}

func (f *MeowFactory) NewSession(ctx context.Context, agentID string, sink EventSink) (Session, error) {
	dev, err := f.devices.Device(ctx, agentID)
	if err != nil {
		return nil, err
	}
	log := f.log.With().Str("agent_id", agentID).Logger()
	client := whatsmeow.NewClient(dev, waLog.Zerolog(log))
	// Reconnects are driven by the instance manager
	client.EnableAutoReconnect = false

	s := &meowSession{client: client, sink: sink, log: log}
	s.handlerID = client.AddEventHandler(s.handle)
	return s, nil
}

type meowSession struct {
	client    *whatsmeow.Client
	sink      EventSink
	log       zerolog.Logger
	handlerID uint32

	endOnce sync.Once
}

func (s *meowSession) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		qr, err := s.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("pairing channel: %w", err)
		}
		go s.watchQR(qr)
	}
	return s.client.Connect()
}

func (s *meowSession) watchQR(qr <-chan whatsmeow.QRChannelItem) {
	for item := range qr {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.sink(PairingCode{Payload: item.Code})
		case "timeout":
			s.sink(Closed{Code: CodeConnectionLost, Err: errors.New("pairing timed out")})
		case "success":
			// Connected follows
		default:
			if item.Error != nil {
				s.sink(Closed{Code: CodeConnectionClosed, Err: item.Error})
			}
		}
	}
}

func (s *meowSession) handle(evt any) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		s.sink(CredentialsUpdated{})
	case *events.Connected:
		var phone, device string
		if id := s.client.Store.ID; id != nil {
			phone, device = id.User, id.String()
		}
		s.sink(Connected{PhoneNumber: phone, DeviceID: device})
	case *events.LoggedOut:
		code := int(v.Reason)
		if code == 0 {
			code = CodeUnauthorized
		}
		s.sink(Closed{Code: code, LoggedOut: !v.OnConnect, Err: errors.New("logged out")})
	case *events.ConnectFailure:
		s.sink(Closed{Code: int(v.Reason), Err: fmt.Errorf("connect failure: %s", v.Message)})
	case *events.StreamReplaced:
		s.sink(Closed{Code: CodeConnectionReplaced, Err: errors.New("stream replaced")})
	case *events.TemporaryBan:
		s.sink(Closed{Code: CodeTempBanned, Err: errors.New(v.String())})
	case *events.ClientOutdated:
		s.sink(Closed{Code: CodeClientOutdated, Err: errors.New("client outdated")})
	case *events.Disconnected:
		s.sink(Closed{Code: CodeConnectionClosed})
	case *events.Message:
		s.sink(MessagesReceived{Messages: []InboundMessage{decodeMessage(v)}})
	case *events.Receipt:
		if u, ok := decodeReceipt(v); ok {
			s.sink(DeliveryReceipts{Updates: []DeliveryUpdate{u}})
		}
	}
}

func decodeReceipt(v *events.Receipt) (DeliveryUpdate, bool) {
	var status string
	switch v.Type {
	case types.ReceiptTypeDelivered:
		status = "delivered"
	case types.ReceiptTypeRead, types.ReceiptTypePlayed:
		status = "read"
	default:
		return DeliveryUpdate{}, false
	}
	ids := make([]string, len(v.MessageIDs))
	for i, id := range v.MessageIDs {
		ids[i] = string(id)
	}
	return DeliveryUpdate{ContactID: ContactID(v.Chat.String()), MessageIDs: ids, Status: status}, true
}

func decodeMessage(v *events.Message) InboundMessage {
	msg := InboundMessage{
		ID:        v.Info.ID,
		ChatID:    v.Info.Chat.String(),
		Sender:    v.Info.Sender.String(),
		PushName:  v.Info.PushName,
		FromMe:    v.Info.IsFromMe,
		Timestamp: v.Info.Timestamp,
		raw:       v,
	}
	m := v.Message
	if m == nil {
		return msg
	}

	c := &MessageContent{Conversation: m.GetConversation()}
	var info *waE2E.ContextInfo
	if ext := m.GetExtendedTextMessage(); ext != nil {
		c.ExtendedText = ext.GetText()
		info = ext.GetContextInfo()
	}

	if img := m.GetImageMessage(); img != nil {
		c.Media = &InboundMedia{Kind: MediaImage, MimeType: img.GetMimetype(), Caption: img.GetCaption()}
		info = orContext(info, img.GetContextInfo())
	} else if vid := m.GetVideoMessage(); vid != nil {
		c.Media = &InboundMedia{Kind: MediaVideo, MimeType: vid.GetMimetype(), Caption: vid.GetCaption()}
		info = orContext(info, vid.GetContextInfo())
	} else if doc := m.GetDocumentMessage(); doc != nil {
		c.Media = &InboundMedia{Kind: MediaDocument, MimeType: doc.GetMimetype(), FileName: doc.GetFileName(), Caption: doc.GetCaption()}
		info = orContext(info, doc.GetContextInfo())
	} else if aud := m.GetAudioMessage(); aud != nil {
		c.Media = &InboundMedia{Kind: MediaAudio, MimeType: aud.GetMimetype()}
		info = orContext(info, aud.GetContextInfo())
	} else if st := m.GetStickerMessage(); st != nil {
		c.Media = &InboundMedia{Kind: MediaSticker, MimeType: st.GetMimetype()}
		info = orContext(info, st.GetContextInfo())
	}

	if info != nil {
		c.Context = &MessageContext{
			MentionedIDs:      info.GetMentionedJID(),
			Forwarded:         info.GetIsForwarded(),
			QuotedID:          info.GetStanzaID(),
			QuotedParticipant: info.GetParticipant(),
			QuotedText:        quotedText(info.GetQuotedMessage()),
		}
	}
	msg.Content = c
	return msg
}

func orContext(a, b *waE2E.ContextInfo) *waE2E.ContextInfo {
	if a != nil {
		return a
	}
	return b
}

func quotedText(q *waE2E.Message) string {
	if q == nil {
		return ""
	}
	switch {
	case q.GetConversation() != "":
		return q.GetConversation()
	case q.GetExtendedTextMessage().GetText() != "":
		return q.GetExtendedTextMessage().GetText()
	case q.GetImageMessage().GetCaption() != "":
		return q.GetImageMessage().GetCaption()
	}
	return q.GetVideoMessage().GetCaption()
}

func (s *meowSession) Send(ctx context.Context, chatID string, p Payload) (Receipt, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return Receipt{}, fmt.Errorf("chat %q: %w", chatID, err)
	}
	m, err := s.build(ctx, jid, p)
	if err != nil {
		return Receipt{}, err
	}
	resp, err := s.client.SendMessage(ctx, jid, m)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (s *meowSession) build(ctx context.Context, chat types.JID, p Payload) (*waE2E.Message, error) {
	switch p := p.(type) {
	case TextPayload:
		if p.Reply == nil && !p.Forwarded && len(p.Mentions) == 0 {
			return &waE2E.Message{Conversation: proto.String(p.Text)}, nil
		}
		return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(p.Text),
			ContextInfo: contextInfo(p.Reply, p.Forwarded, p.Mentions),
		}}, nil
	case MediaPayload:
		return s.buildMedia(ctx, p)
	case LocationPayload:
		return &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(p.Latitude),
			DegreesLongitude: proto.Float64(p.Longitude),
			Name:             proto.String(p.Name),
			Address:          proto.String(p.Address),
		}}, nil
	case ContactPayload:
		return &waE2E.Message{ContactMessage: &waE2E.ContactMessage{
			DisplayName: proto.String(p.DisplayName),
			Vcard:       proto.String(p.VCard),
		}}, nil
	case ReactionPayload:
		sender, err := refSender(p.Target)
		if err != nil {
			return nil, err
		}
		return s.client.BuildReaction(chat, sender, p.Target.ID, p.Emoji), nil
	case EditPayload:
		return s.client.BuildEdit(chat, p.Target.ID, &waE2E.Message{Conversation: proto.String(p.Text)}), nil
	case RevokePayload:
		sender, err := refSender(p.Target)
		if err != nil {
			return nil, err
		}
		return s.client.BuildRevoke(chat, sender, p.Target.ID), nil
	}
	return nil, fmt.Errorf("unsupported payload %T", p)
}

func (s *meowSession) buildMedia(ctx context.Context, p MediaPayload) (*waE2E.Message, error) {
	mediaType := whatsmeow.MediaImage
	switch p.Kind {
	case MediaVideo:
		mediaType = whatsmeow.MediaVideo
	case MediaAudio:
		mediaType = whatsmeow.MediaAudio
	case MediaDocument:
		mediaType = whatsmeow.MediaDocument
	}
	up, err := s.client.Upload(ctx, p.Data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", p.Kind, err)
	}

	var ci *waE2E.ContextInfo
	if p.Reply != nil || p.Forwarded {
		ci = contextInfo(p.Reply, p.Forwarded, nil)
	}
	length := proto.Uint64(up.FileLength)

	switch p.Kind {
	case MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: length,
			Mimetype: proto.String(p.MimeType), Caption: proto.String(p.Caption), ContextInfo: ci,
		}}, nil
	case MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: length,
			Mimetype: proto.String(p.MimeType), PTT: proto.Bool(p.PTT), ContextInfo: ci,
		}}, nil
	case MediaDocument:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: length,
			Mimetype: proto.String(p.MimeType), FileName: proto.String(p.Filename), Title: proto.String(p.Filename),
			Caption: proto.String(p.Caption), ContextInfo: ci,
		}}, nil
	case MediaSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: length,
			Mimetype: proto.String(p.MimeType), ContextInfo: ci,
		}}, nil
	}
	return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
		MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: length,
		Mimetype: proto.String(p.MimeType), Caption: proto.String(p.Caption), ContextInfo: ci,
	}}, nil
}

func contextInfo(reply *MessageRef, forwarded bool, mentions []string) *waE2E.ContextInfo {
	ci := &waE2E.ContextInfo{}
	if reply != nil {
		ci.StanzaID = proto.String(reply.ID)
		if reply.Sender != "" {
			ci.Participant = proto.String(reply.Sender)
		}
		ci.QuotedMessage = &waE2E.Message{Conversation: proto.String(reply.Text)}
	}
	if forwarded {
		ci.IsForwarded = proto.Bool(true)
		ci.ForwardingScore = proto.Uint32(1)
	}
	if len(mentions) > 0 {
		ci.MentionedJID = mentions
	}
	return ci
}

// refSender is the author of a referenced message, empty for our own
func refSender(ref MessageRef) (types.JID, error) {
	if ref.FromMe || ref.Sender == "" {
		return types.EmptyJID, nil
	}
	jid, err := types.ParseJID(ref.Sender)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("sender %q: %w", ref.Sender, err)
	}
	return jid, nil
}

func (s *meowSession) SendPresence(_ context.Context, chatID string, p Presence) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return err
	}
	switch p {
	case PresenceRecording:
		return s.client.SendChatPresence(jid, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
	case PresenceComposing:
		return s.client.SendChatPresence(jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	}
	return s.client.SendChatPresence(jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
}

func (s *meowSession) MarkRead(_ context.Context, chatID, sender string, ids []string) error {
	chat, err := types.ParseJID(chatID)
	if err != nil {
		return err
	}
	from := types.EmptyJID
	if sender != "" {
		if from, err = types.ParseJID(sender); err != nil {
			return err
		}
	}
	msgIDs := make([]types.MessageID, len(ids))
	for i, id := range ids {
		msgIDs[i] = types.MessageID(id)
	}
	return s.client.MarkRead(msgIDs, time.Now(), chat, from)
}

func (s *meowSession) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

func (s *meowSession) End() {
	s.endOnce.Do(func() {
		s.client.RemoveEventHandler(s.handlerID)
		s.client.Disconnect()
	})
}

func (s *meowSession) GroupMetadata(_ context.Context, chatID string) (GroupMetadata, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return GroupMetadata{}, err
	}
	info, err := s.client.GetGroupInfo(jid)
	if err != nil {
		return GroupMetadata{}, err
	}
	meta := GroupMetadata{Name: info.Name}
	for _, p := range info.Participants {
		part := Participant{ID: p.JID.String(), DisplayName: p.DisplayName}
		if !p.PhoneNumber.IsEmpty() {
			part.AltID = p.PhoneNumber.String()
		} else if !p.LID.IsEmpty() {
			part.AltID = p.LID.String()
		}
		meta.Participants = append(meta.Participants, part)
	}
	return meta, nil
}

func (s *meowSession) ProfilePictureURL(_ context.Context, chatID string) (string, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return "", err
	}
	pic, err := s.client.GetProfilePictureInfo(jid, &whatsmeow.GetProfilePictureParams{})
	if err != nil || pic == nil {
		return "", err
	}
	return pic.URL, nil
}

func (s *meowSession) ContactDisplayName(ctx context.Context, participantID string) (string, error) {
	jid, err := types.ParseJID(participantID)
	if err != nil {
		return "", err
	}
	info, err := s.client.Store.Contacts.GetContact(ctx, jid)
	if err != nil || !info.Found {
		return "", err
	}
	for _, name := range []string{info.FullName, info.PushName, info.BusinessName, info.FirstName} {
		if name != "" {
			return name, nil
		}
	}
	return "", nil
}

func (s *meowSession) DownloadMedia(ctx context.Context, msg InboundMessage) ([]byte, error) {
	ev, ok := msg.raw.(*events.Message)
	if !ok || ev.Message == nil {
		return nil, errors.New("message carries no media")
	}
	m := ev.Message
	var dl whatsmeow.DownloadableMessage
	switch {
	case m.GetImageMessage() != nil:
		dl = m.GetImageMessage()
	case m.GetVideoMessage() != nil:
		dl = m.GetVideoMessage()
	case m.GetDocumentMessage() != nil:
		dl = m.GetDocumentMessage()
	case m.GetAudioMessage() != nil:
		dl = m.GetAudioMessage()
	case m.GetStickerMessage() != nil:
		dl = m.GetStickerMessage()
	default:
		return nil, errors.New("message carries no media")
	}
	return s.client.Download(ctx, dl)
}
