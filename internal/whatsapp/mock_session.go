package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockSessionFactory hands out in-memory sessions. OnConnect runs inside
// every Connect and usually emits the events the test needs.
type MockSessionFactory struct {
	OnConnect func(s *MockSession)
	// Configure runs on every new session before it is returned.
	Configure func(s *MockSession)
	NewErr    error

	mu       sync.Mutex
	sessions []*MockSession
	connects atomic.Int64
}

func (f *MockSessionFactory) NewSession(_ context.Context, agentID string, sink EventSink) (Session, error) {
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	s := &MockSession{AgentID: agentID, factory: f, sink: sink, Names: map[string]string{}}
	if f.Configure != nil {
		f.Configure(s)
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

// Sessions returns every session created so far
func (f *MockSessionFactory) Sessions() []*MockSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockSession(nil), f.sessions...)
}

// Last returns the newest session, nil if none
func (f *MockSessionFactory) Last() *MockSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

// Connects counts Connect calls across all sessions
func (f *MockSessionFactory) Connects() int {
	return int(f.connects.Load())
}

// SentMessage is one payload passed to MockSession.Send
type SentMessage struct {
	ChatID  string
	Payload Payload
}

// MockSession records what it is asked to do
type MockSession struct {
	AgentID string

	Group      GroupMetadata
	GroupErr   error
	Picture    string
	Names      map[string]string
	MediaData  []byte
	MediaErr   error
	SendErr    error
	ConnectErr error
	LogoutErr  error

	factory *MockSessionFactory
	sink    EventSink

	mu        sync.Mutex
	sent      []SentMessage
	presence  []Presence
	reads     []string
	loggedOut bool
	ended     bool
	seq       int
}

// Emit delivers ev as if the network produced it
func (s *MockSession) Emit(ev Event) {
	s.sink(ev)
}

func (s *MockSession) Connect(context.Context) error {
	s.factory.connects.Add(1)
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	if s.factory.OnConnect != nil {
		s.factory.OnConnect(s)
	}
	return nil
}

func (s *MockSession) Send(_ context.Context, chatID string, p Payload) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return Receipt{}, s.SendErr
	}
	s.seq++
	s.sent = append(s.sent, SentMessage{ChatID: chatID, Payload: p})
	return Receipt{MessageID: fmt.Sprintf("%s-%d", s.AgentID, s.seq), Timestamp: time.Now()}, nil
}

func (s *MockSession) SendPresence(_ context.Context, _ string, p Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, p)
	return nil
}

func (s *MockSession) MarkRead(_ context.Context, _, _ string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, ids...)
	return nil
}

func (s *MockSession) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = true
	return s.LogoutErr
}

func (s *MockSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *MockSession) GroupMetadata(context.Context, string) (GroupMetadata, error) {
	return s.Group, s.GroupErr
}

func (s *MockSession) ProfilePictureURL(context.Context, string) (string, error) {
	return s.Picture, nil
}

func (s *MockSession) ContactDisplayName(_ context.Context, id string) (string, error) {
	return s.Names[userPart(id)], nil
}

func (s *MockSession) DownloadMedia(context.Context, InboundMessage) ([]byte, error) {
	return s.MediaData, s.MediaErr
}

// Sent returns the payloads sent so far
func (s *MockSession) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// Reads returns the message ids marked read
func (s *MockSession) Reads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reads...)
}

// Presence returns the presence updates sent
func (s *MockSession) Presence() []Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Presence(nil), s.presence...)
}

func (s *MockSession) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

func (s *MockSession) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// MockCredentialStore counts credential wipes per agent
type MockCredentialStore struct {
	mu      sync.Mutex
	cleared map[string]int
}

func (c *MockCredentialStore) Clear(_ context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleared == nil {
		c.cleared = map[string]int{}
	}
	c.cleared[agentID]++
	return nil
}

// Cleared returns how many times agentID's credentials were wiped
func (c *MockCredentialStore) Cleared(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared[agentID]
}
