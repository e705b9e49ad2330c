package whatsapp

import (
	"context"
	"time"
)

// Session is one agent's live connection to the messaging network.
// Events are delivered to the EventSink given to the factory.
type Session interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, chatID string, p Payload) (Receipt, error)
	SendPresence(ctx context.Context, chatID string, p Presence) error
	MarkRead(ctx context.Context, chatID, sender string, ids []string) error
	// Logout unlinks the device from the account.
	Logout(ctx context.Context) error
	// End releases the connection without unlinking. Safe to call twice.
	End()

	GroupMetadata(ctx context.Context, chatID string) (GroupMetadata, error)
	ProfilePictureURL(ctx context.Context, chatID string) (string, error)
	ContactDisplayName(ctx context.Context, participantID string) (string, error)
	DownloadMedia(ctx context.Context, msg InboundMessage) ([]byte, error)
}

// SessionFactory opens a session for an agent
type SessionFactory interface {
	NewSession(ctx context.Context, agentID string, sink EventSink) (Session, error)
}

// CredentialStore holds the pairing credentials of every agent
type CredentialStore interface {
	Clear(ctx context.Context, agentID string) error
}

// EventSink receives the events of one session in delivery order
type EventSink func(Event)

// Event is one of CredentialsUpdated, PairingCode, Connected, Closed,
// MessagesReceived or DeliveryReceipts.
type Event interface {
	isEvent()
}

// CredentialsUpdated reports that pairing credentials were saved
type CredentialsUpdated struct{}

// PairingCode carries a fresh pairing payload to display as a QR code
type PairingCode struct {
	Payload string
}

// Connected reports a completed handshake
type Connected struct {
	PhoneNumber string
	DeviceID    string
}

// Closed reports the end of the connection. LoggedOut is set when the
// user unlinked the device from their phone.
type Closed struct {
	Code      int
	LoggedOut bool
	Err       error
}

// MessagesReceived carries a batch of inbound messages
type MessagesReceived struct {
	Messages []InboundMessage
}

// DeliveryReceipts carries delivery progress of sent messages
type DeliveryReceipts struct {
	Updates []DeliveryUpdate
}

func (CredentialsUpdated) isEvent() {}
func (PairingCode) isEvent()        {}
func (Connected) isEvent()          {}
func (Closed) isEvent()             {}
func (MessagesReceived) isEvent()   {}
func (DeliveryReceipts) isEvent()   {}

// DeliveryUpdate moves messages of a chat to Status
type DeliveryUpdate struct {
	ContactID  string
	MessageIDs []string
	Status     string
}

// Close codes, following the network's stream error codes
const (
	CodeUnauthorized       = 401
	CodeTempBanned         = 402
	CodeForbidden          = 403
	CodeClientOutdated     = 405
	CodeUnknownLogout      = 406
	CodeConnectionLost     = 408
	CodeConnectionClosed   = 428
	CodeConnectionReplaced = 440
	CodeRestartRequired    = 515
)

type closeClass int

const (
	closeTransient closeClass = iota
	closeAuth
	closeTerminal
)

func classifyClose(c Closed) closeClass {
	if c.LoggedOut {
		return closeTerminal
	}
	switch c.Code {
	case CodeUnauthorized, CodeForbidden, CodeClientOutdated, CodeUnknownLogout:
		return closeAuth
	}
	return closeTransient
}

// MediaKind classifies attachments
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
	MediaSticker  MediaKind = "sticker"
)

// InboundMessage is a transport message decoded once at the session boundary
type InboundMessage struct {
	ID        string
	ChatID    string
	Sender    string
	PushName  string
	FromMe    bool
	Timestamp time.Time
	// Content is nil when the event carried no message payload.
	Content *MessageContent

	raw any
}

// MessageContent holds the populated parts of a message
type MessageContent struct {
	Conversation string
	ExtendedText string
	Media        *InboundMedia
	Context      *MessageContext
}

// InboundMedia describes an attachment before download
type InboundMedia struct {
	Kind     MediaKind
	MimeType string
	FileName string
	Caption  string
}

// MessageContext is the reply/forward/mention metadata of a message
type MessageContext struct {
	MentionedIDs      []string
	Forwarded         bool
	QuotedID          string
	QuotedParticipant string
	QuotedText        string
}

// Text returns the first populated of body, extended text or caption
func (c *MessageContent) Text() string {
	if c == nil {
		return ""
	}
	switch {
	case c.Conversation != "":
		return c.Conversation
	case c.ExtendedText != "":
		return c.ExtendedText
	case c.Media != nil:
		return c.Media.Caption
	}
	return ""
}

// GroupMetadata is the subject and roster of a group
type GroupMetadata struct {
	Name         string
	Participants []Participant
}

// Participant is a group member. AltID is the member's other addressing
// form (phone or hidden id), when known.
type Participant struct {
	ID          string
	AltID       string
	DisplayName string
}

// Payload is one of TextPayload, MediaPayload, LocationPayload,
// ContactPayload, ReactionPayload, EditPayload or RevokePayload.
type Payload interface {
	payloadKind() string
}

// MessageRef points at an existing message
type MessageRef struct {
	ID     string `json:"id" validate:"required"`
	Sender string `json:"sender,omitempty"`
	FromMe bool   `json:"from_me,omitempty"`
	Text   string `json:"text,omitempty"`
}

type TextPayload struct {
	Text      string
	Reply     *MessageRef
	Forwarded bool
	Mentions  []string
}

type MediaPayload struct {
	Kind      MediaKind
	Data      []byte
	MimeType  string
	Filename  string
	Caption   string
	PTT       bool
	Reply     *MessageRef
	Forwarded bool
}

type LocationPayload struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

type ContactPayload struct {
	DisplayName string `json:"display_name" validate:"required"`
	VCard       string `json:"vcard" validate:"required"`
}

type ReactionPayload struct {
	Target MessageRef
	Emoji  string
}

type EditPayload struct {
	Target MessageRef
	Text   string
}

type RevokePayload struct {
	Target MessageRef
}

func (TextPayload) payloadKind() string     { return "text" }
func (p MediaPayload) payloadKind() string  { return string(p.Kind) }
func (LocationPayload) payloadKind() string { return "location" }
func (ContactPayload) payloadKind() string  { return "contact" }
func (ReactionPayload) payloadKind() string { return "reaction" }
func (EditPayload) payloadKind() string     { return "edit" }
func (RevokePayload) payloadKind() string   { return "revoke" }

// Receipt acknowledges a sent message
type Receipt struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Presence is a chat presence state
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresenceRecording Presence = "recording"
	PresencePaused    Presence = "paused"
)
