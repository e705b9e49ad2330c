package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"soporte_wa/internal/events"
	"soporte_wa/internal/models"
	"soporte_wa/internal/telemetry"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// InstanceStore persists instance state. patch maps column names to values,
// nil clears a column.
type InstanceStore interface {
	Save(ctx context.Context, agentID string, patch map[string]interface{}) error
}

// ConversationLogger records conversation entries
type ConversationLogger interface {
	Append(ctx context.Context, entry *models.ConversationLog) error
	FindByMessageID(ctx context.Context, messageID string) (*models.ConversationLog, error)
	UpdateDeliveryStatus(ctx context.Context, messageID, status string) error
}

// InboundHandler routes inbound messages of an agent's session
type InboundHandler interface {
	Route(ctx context.Context, agentID string, sess Session, msg InboundMessage) (Outcome, error)
}

// Options is the reconnect policy
type Options struct {
	ReconnectDelay       time.Duration
	LogoutRestartDelay   time.Duration
	MaxReconnectAttempts int
}

// DefaultOptions returns the production reconnect policy
func DefaultOptions() Options {
	return Options{
		ReconnectDelay:       5 * time.Second,
		LogoutRestartDelay:   2 * time.Second,
		MaxReconnectAttempts: 3,
	}
}

// ManagerDeps are the collaborators of a Manager
type ManagerDeps struct {
	Sessions      SessionFactory
	Credentials   CredentialStore
	Instances     InstanceStore
	Router        InboundHandler
	Conversations ConversationLogger
	Media         MediaStore
	Events        *events.Emitter
	Logger        zerolog.Logger
}

// Manager owns one instance per agent and drives it from session events.
// Everything touching one agent runs on that agent's queue.
type Manager struct {
	opts     Options
	sessions SessionFactory
	creds    CredentialStore
	store    InstanceStore
	router   InboundHandler
	conv     ConversationLogger
	media    MediaStore
	events   *events.Emitter
	log      zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	queue *serialQueue

	mu    sync.RWMutex
	slots map[string]*slot
}

// slot outlives its instances so the epoch only grows. epoch changes on
// every start, stop and logout and identifies the current session.
type slot struct {
	inst    *Instance
	epoch   uint64
	restart *time.Timer
}

// NewManager creates a new instance manager
func NewManager(deps ManagerDeps, opts Options) *Manager {
	return &Manager{
		opts:     opts,
		sessions: deps.Sessions,
		creds:    deps.Credentials,
		store:    deps.Instances,
		router:   deps.Router,
		conv:     deps.Conversations,
		media:    deps.Media,
		events:   deps.Events,
		log:      deps.Logger.With().Str("component", "instances").Logger(),
		tracer:   telemetry.Tracer("whatsapp"),
		now:      time.Now,
		queue:    newSerialQueue(),
		slots:    make(map[string]*slot),
	}
}

// Start brings up the agent's instance. A connected instance is returned
// as is; any other existing instance is replaced. Starting resets the
// reconnect budget.
func (m *Manager) Start(ctx context.Context, agentID, label string) (InstanceInfo, error) {
	var info InstanceInfo
	err := m.queue.Run(ctx, agentID, func() error {
		var err error
		info, err = m.start(context.WithoutCancel(ctx), agentID, label, 0)
		return err
	})
	return info, err
}

// Stop ends the agent's session and removes the instance. Stopping an
// absent instance does nothing.
func (m *Manager) Stop(ctx context.Context, agentID string) error {
	return m.queue.Run(ctx, agentID, func() error {
		return m.stop(context.WithoutCancel(ctx), agentID)
	})
}

// Logout unlinks the agent's device, wipes its credentials and offers a
// fresh pairing shortly after.
func (m *Manager) Logout(ctx context.Context, agentID string) error {
	return m.queue.Run(ctx, agentID, func() error {
		return m.logout(context.WithoutCancel(ctx), agentID)
	})
}

// StopAll stops every live instance
func (m *Manager) StopAll(ctx context.Context) {
	for _, info := range m.List() {
		if err := m.Stop(ctx, info.AgentID); err != nil {
			m.log.Warn().Err(err).Str("agent_id", info.AgentID).Msg("stop failed")
		}
	}
}

// List returns every live instance, ordered by agent id
func (m *Manager) List() []InstanceInfo {
	m.mu.RLock()
	infos := make([]InstanceInfo, 0, len(m.slots))
	for _, s := range m.slots {
		if s.inst != nil {
			infos = append(infos, s.inst.Info())
		}
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].AgentID < infos[j].AgentID })
	return infos
}

// Get returns the agent's live instance
func (m *Manager) Get(agentID string) (InstanceInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[agentID]
	if !ok || s.inst == nil {
		return InstanceInfo{}, false
	}
	return s.inst.Info(), true
}

// IsConnected reports whether the agent can send
func (m *Manager) IsConnected(agentID string) bool {
	info, ok := m.Get(agentID)
	return ok && info.State == StateConnected
}

func (m *Manager) slotFor(agentID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[agentID]
	if !ok {
		s = &slot{}
		m.slots[agentID] = s
	}
	return s
}

func (m *Manager) start(ctx context.Context, agentID, label string, attempts int) (InstanceInfo, error) {
	log := m.log.With().Str("agent_id", agentID).Logger()
	s := m.slotFor(agentID)

	m.mu.RLock()
	existing := s.inst
	m.mu.RUnlock()
	if existing != nil {
		if existing.State() == StateConnected {
			return existing.Info(), nil
		}
		if label == "" {
			label = existing.Info().Label
		}
		if err := m.teardown(ctx, agentID, existing); err != nil {
			log.Warn().Err(err).Msg("persisting replaced instance failed")
		}
	}

	m.mu.Lock()
	m.cancelRestartLocked(s)
	s.epoch++
	inst := &Instance{
		agentID:     agentID,
		label:       label,
		state:       StateDisconnected,
		attempts:    attempts,
		maxAttempts: m.opts.MaxReconnectAttempts,
		epoch:       s.epoch,
	}
	s.inst = inst
	m.mu.Unlock()

	if err := m.persist(ctx, agentID, map[string]interface{}{
		"label":              label,
		"status":             models.InstanceDisconnected,
		"reconnect_attempts": attempts,
		"last_error":         nil,
	}); err != nil {
		return inst.Info(), err
	}

	sess, err := m.sessions.NewSession(ctx, agentID, m.sink(agentID, inst.epoch))
	if err != nil {
		return inst.Info(), fmt.Errorf("open session: %w", err)
	}
	inst.mu.Lock()
	inst.session = sess
	inst.mu.Unlock()

	log.Info().Int("reconnect_attempts", attempts).Msg("instance starting")
	if err := sess.Connect(ctx); err != nil {
		inst.detach()
		sess.End()
		return inst.Info(), fmt.Errorf("connect: %w", err)
	}
	return inst.Info(), nil
}

func (m *Manager) stop(ctx context.Context, agentID string) error {
	m.mu.Lock()
	s, ok := m.slots[agentID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	m.cancelRestartLocked(s)
	s.epoch++
	inst := s.inst
	s.inst = nil
	m.mu.Unlock()

	if inst == nil {
		return nil
	}
	m.log.Info().Str("agent_id", agentID).Msg("instance stopped")
	err := m.teardown(ctx, agentID, inst)
	m.emitState(ctx, inst)
	return err
}

func (m *Manager) logout(ctx context.Context, agentID string) error {
	log := m.log.With().Str("agent_id", agentID).Logger()

	m.mu.Lock()
	s, ok := m.slots[agentID]
	if !ok || s.inst == nil {
		m.mu.Unlock()
		return ErrInstanceNotFound
	}
	m.cancelRestartLocked(s)
	s.epoch++
	inst := s.inst
	m.mu.Unlock()

	wasConnected := inst.State() == StateConnected
	sess := inst.detach()
	inst.mu.Lock()
	inst.phone = ""
	inst.attempts = 0
	inst.fatal = nil
	inst.connectedAt = time.Time{}
	inst.mu.Unlock()

	if sess != nil {
		if wasConnected {
			if err := sess.Logout(ctx); err != nil {
				log.Warn().Err(err).Msg("protocol logout failed, continuing")
			}
		}
		sess.End()
	}
	if err := m.creds.Clear(ctx, agentID); err != nil {
		log.Error().Err(err).Msg("clearing credentials failed")
	}

	err := m.persist(ctx, agentID, map[string]interface{}{
		"status":             models.InstanceDisconnected,
		"qr_code":            nil,
		"phone_number":       nil,
		"device_id":          nil,
		"reconnect_attempts": 0,
		"last_error":         nil,
	})

	m.mu.Lock()
	m.scheduleRestartLocked(agentID, s, m.opts.LogoutRestartDelay)
	m.mu.Unlock()

	log.Info().Dur("restart_in", m.opts.LogoutRestartDelay).Msg("instance logged out")
	m.emitState(ctx, inst)
	return err
}

// teardown ends the instance's session and persists it as disconnected
func (m *Manager) teardown(ctx context.Context, agentID string, inst *Instance) error {
	if sess := inst.detach(); sess != nil {
		sess.End()
	}
	return m.persist(ctx, agentID, map[string]interface{}{
		"status":  models.InstanceDisconnected,
		"qr_code": nil,
	})
}

// scheduleRestartLocked arms a restart bound to the slot's current epoch.
// Any later start, stop or logout makes it a no-op. m.mu must be held.
func (m *Manager) scheduleRestartLocked(agentID string, s *slot, delay time.Duration) {
	m.cancelRestartLocked(s)
	token := s.epoch
	s.restart = time.AfterFunc(delay, func() {
		m.queue.Submit(agentID, func() { m.restart(agentID, token) })
	})
}

func (m *Manager) cancelRestartLocked(s *slot) {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
}

func (m *Manager) restart(agentID string, token uint64) {
	m.mu.Lock()
	s, ok := m.slots[agentID]
	if !ok || s.epoch != token || s.inst == nil {
		m.mu.Unlock()
		m.log.Debug().Str("agent_id", agentID).Msg("stale restart ignored")
		return
	}
	s.restart = nil
	inst := s.inst
	m.mu.Unlock()

	info := inst.Info()
	ctx := context.Background()
	if _, err := m.start(ctx, agentID, info.Label, info.ReconnectAttempts); err != nil {
		m.log.Error().Err(err).Str("agent_id", agentID).Dur("retry_in", m.opts.ReconnectDelay).Msg("restart failed")
		m.mu.Lock()
		if s.inst != nil {
			m.scheduleRestartLocked(agentID, s, m.opts.ReconnectDelay)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) sink(agentID string, epoch uint64) EventSink {
	return func(ev Event) {
		m.queue.Submit(agentID, func() { m.handleEvent(agentID, epoch, ev) })
	}
}

// handleEvent runs on the agent's queue
func (m *Manager) handleEvent(agentID string, epoch uint64, ev Event) {
	m.mu.RLock()
	var (
		s    = m.slots[agentID]
		inst *Instance
	)
	if s != nil && s.epoch == epoch {
		inst = s.inst
	}
	m.mu.RUnlock()

	if inst == nil || inst.liveSession() == nil {
		m.log.Debug().Str("agent_id", agentID).Type("event", ev).Msg("event from superseded session dropped")
		return
	}

	ctx := context.Background()
	switch ev := ev.(type) {
	case CredentialsUpdated:
		m.persistQuiet(ctx, agentID, map[string]interface{}{"last_activity": m.now()})
	case PairingCode:
		m.onPairing(ctx, inst, ev)
	case Connected:
		m.onConnected(ctx, inst, ev)
	case Closed:
		m.onClosed(ctx, s, inst, ev)
	case MessagesReceived:
		sess := inst.liveSession()
		for _, msg := range ev.Messages {
			if _, err := m.router.Route(ctx, agentID, sess, msg); err != nil {
				m.log.Error().Err(err).Str("agent_id", agentID).Str("message_id", msg.ID).Msg("routing failed")
			}
		}
	case DeliveryReceipts:
		for _, u := range ev.Updates {
			for _, id := range u.MessageIDs {
				if err := m.conv.UpdateDeliveryStatus(ctx, id, u.Status); err != nil {
					m.log.Warn().Err(err).Str("message_id", id).Msg("delivery status update failed")
				}
			}
		}
	}
}

func (m *Manager) onPairing(ctx context.Context, inst *Instance, ev PairingCode) {
	now := m.now()
	inst.mu.Lock()
	inst.state = StateQRReady
	inst.qrPayload = ev.Payload
	inst.mu.Unlock()

	m.log.Info().Str("agent_id", inst.agentID).Msg("pairing code ready")
	m.persistQuiet(ctx, inst.agentID, map[string]interface{}{
		"status":     models.InstanceQRReady,
		"qr_code":    ev.Payload,
		"last_qr_at": now,
	})
	m.emitState(ctx, inst)
}

func (m *Manager) onConnected(ctx context.Context, inst *Instance, ev Connected) {
	now := m.now()
	inst.mu.Lock()
	inst.state = StateConnected
	inst.qrPayload = ""
	inst.attempts = 0
	inst.fatal = nil
	inst.phone = userPart(ev.PhoneNumber)
	inst.connectedAt = now
	phone := inst.phone
	inst.mu.Unlock()

	patch := map[string]interface{}{
		"status":             models.InstanceConnected,
		"qr_code":            nil,
		"phone_number":       phone,
		"reconnect_attempts": 0,
		"connected_at":       now,
		"last_activity":      now,
		"last_error":         nil,
	}
	if ev.DeviceID != "" {
		patch["device_id"] = ev.DeviceID
	}
	m.persistQuiet(ctx, inst.agentID, patch)

	m.log.Info().Str("agent_id", inst.agentID).Str("phone", phone).Msg("instance connected")
	m.appendSystem(ctx, inst.agentID, "", fmt.Sprintf("WhatsApp instance started for %s (+%s)", inst.Info().Label, phone))
	m.emitState(ctx, inst)
}

func (m *Manager) onClosed(ctx context.Context, s *slot, inst *Instance, ev Closed) {
	log := m.log.With().Str("agent_id", inst.agentID).Int("code", ev.Code).Logger()
	if ev.Err != nil {
		log = log.With().AnErr("reason", ev.Err).Logger()
	}
	if sess := inst.detach(); sess != nil {
		sess.End()
	}

	patch := map[string]interface{}{
		"status":        models.InstanceDisconnected,
		"qr_code":       nil,
		"last_activity": m.now(),
	}

	switch classifyClose(ev) {
	case closeTerminal:
		log.Info().Msg("device logged out by user, not restarting")
		m.persistQuiet(ctx, inst.agentID, patch)

	case closeAuth:
		inst.mu.Lock()
		inst.attempts++
		attempts := inst.attempts
		inst.mu.Unlock()
		patch["reconnect_attempts"] = attempts

		if attempts > m.opts.MaxReconnectAttempts {
			inst.mu.Lock()
			inst.fatal = ErrReconnectBudgetExhausted
			inst.mu.Unlock()
			patch["last_error"] = ErrReconnectBudgetExhausted.Error()
			m.persistQuiet(ctx, inst.agentID, patch)
			log.Error().Int("attempts", attempts).Msg("credentials keep being rejected, instance stopped")
			m.events.Emit(ctx, events.InstanceFatal, inst.agentID, m.stateEvent(inst))
			return
		}

		if err := m.creds.Clear(ctx, inst.agentID); err != nil {
			log.Error().Err(err).Msg("clearing credentials failed")
		}
		patch["device_id"] = nil
		m.persistQuiet(ctx, inst.agentID, patch)
		log.Warn().Int("attempts", attempts).Dur("restart_in", m.opts.ReconnectDelay).Msg("credentials rejected, re-pairing")
		m.mu.Lock()
		m.scheduleRestartLocked(inst.agentID, s, m.opts.ReconnectDelay)
		m.mu.Unlock()

	default:
		inst.mu.Lock()
		inst.attempts = 0
		inst.mu.Unlock()
		patch["reconnect_attempts"] = 0
		m.persistQuiet(ctx, inst.agentID, patch)
		log.Warn().Dur("restart_in", m.opts.ReconnectDelay).Msg("connection closed, reconnecting")
		m.mu.Lock()
		m.scheduleRestartLocked(inst.agentID, s, m.opts.ReconnectDelay)
		m.mu.Unlock()
	}
	m.emitState(ctx, inst)
}

func (m *Manager) persist(ctx context.Context, agentID string, patch map[string]interface{}) error {
	if err := m.store.Save(ctx, agentID, patch); err != nil {
		return fmt.Errorf("persist instance %s: %w", agentID, err)
	}
	return nil
}

// persistQuiet is persist for event handling, where nobody waits for the error
func (m *Manager) persistQuiet(ctx context.Context, agentID string, patch map[string]interface{}) {
	if err := m.persist(ctx, agentID, patch); err != nil {
		m.log.Error().Err(err).Str("agent_id", agentID).Msg("instance state not persisted")
	}
}

func (m *Manager) appendSystem(ctx context.Context, agentID, contactID, text string) {
	err := m.conv.Append(ctx, &models.ConversationLog{
		Timestamp: m.now(),
		Role:      models.RoleSystem,
		AgentID:   agentID,
		ContactID: contactID,
		Text:      text,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("agent_id", agentID).Msg("system entry queued for retry")
	}
}

func (m *Manager) stateEvent(inst *Instance) events.InstanceState {
	info := inst.Info()
	return events.InstanceState{
		State:       string(info.State),
		PhoneNumber: info.PhoneNumber,
		Attempts:    info.ReconnectAttempts,
		Error:       info.Error,
	}
}

func (m *Manager) emitState(ctx context.Context, inst *Instance) {
	m.events.Emit(ctx, events.InstanceStateChanged, inst.agentID, m.stateEvent(inst))
}

// connectedSession returns the session of a connected instance
func (m *Manager) connectedSession(agentID string) (Session, InstanceInfo, error) {
	m.mu.RLock()
	s, ok := m.slots[agentID]
	var inst *Instance
	if ok {
		inst = s.inst
	}
	m.mu.RUnlock()

	if inst == nil {
		return nil, InstanceInfo{}, ErrInstanceNotFound
	}
	info := inst.Info()
	sess := inst.liveSession()
	if info.State != StateConnected || sess == nil {
		return nil, info, ErrInstanceNotConnected
	}
	return sess, info, nil
}

// IsUnavailable reports whether err means the agent's transport cannot send
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrTransportUnavailable)
}
