package whatsapp

import (
	"sync"
	"time"

	"soporte_wa/internal/models"
)

// State is the connection state of an instance
type State string

const (
	StateDisconnected State = models.InstanceDisconnected
	StateQRReady      State = models.InstanceQRReady
	StateConnected    State = models.InstanceConnected
)

// Instance is the live connection state of one agent. Fields are written
// only from the agent's queue; the lock serves concurrent readers.
type Instance struct {
	mu sync.RWMutex

	agentID     string
	label       string
	state       State
	qrPayload   string
	phone       string
	attempts    int
	maxAttempts int
	connectedAt time.Time
	fatal       error

	session Session
	epoch   uint64
}

// InstanceInfo is a point in time copy of an instance
type InstanceInfo struct {
	AgentID              string     `json:"agent_id"`
	Label                string     `json:"label"`
	State                State      `json:"state"`
	QRPayload            string     `json:"qr_payload,omitempty"`
	PhoneNumber          string     `json:"phone_number,omitempty"`
	ReconnectAttempts    int        `json:"reconnect_attempts"`
	MaxReconnectAttempts int        `json:"max_reconnect_attempts"`
	ConnectedAt          *time.Time `json:"connected_at,omitempty"`
	Error                string     `json:"error,omitempty"`
}

// Info snapshots the instance
func (i *Instance) Info() InstanceInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()

	info := InstanceInfo{
		AgentID:              i.agentID,
		Label:                i.label,
		State:                i.state,
		QRPayload:            i.qrPayload,
		PhoneNumber:          i.phone,
		ReconnectAttempts:    i.attempts,
		MaxReconnectAttempts: i.maxAttempts,
	}
	if !i.connectedAt.IsZero() {
		t := i.connectedAt
		info.ConnectedAt = &t
	}
	if i.fatal != nil {
		info.Error = i.fatal.Error()
	}
	return info
}

func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// detach marks the instance disconnected and hands back its session
func (i *Instance) detach() Session {
	i.mu.Lock()
	defer i.mu.Unlock()
	sess := i.session
	i.session = nil
	i.state = StateDisconnected
	i.qrPayload = ""
	return sess
}

func (i *Instance) liveSession() Session {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.session
}
