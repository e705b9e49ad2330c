package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"soporte_wa/internal/models"
	"soporte_wa/internal/whatsapp"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentInactive = errors.New("agent is inactive")
)

// AgentStore is the persistence of agents
type AgentStore interface {
	Create(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context) ([]models.Agent, error)
	ListActive(ctx context.Context) ([]models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) (bool, error)
}

// InstanceController runs agents' WhatsApp instances
type InstanceController interface {
	Start(ctx context.Context, agentID, label string) (whatsapp.InstanceInfo, error)
	Stop(ctx context.Context, agentID string) error
}

// OwnerFollowUps cancels the follow-ups sent through an agent
type OwnerFollowUps interface {
	CancelByOwner(ctx context.Context, agentID, reason string) (int, error)
}

// AgentService manages support agents and keeps an instance running for
// every active one
type AgentService struct {
	store       AgentStore
	instances   InstanceController
	assignments *AssignmentService
	followUps   OwnerFollowUps
	log         zerolog.Logger
}

// NewAgentService creates a new agent service
func NewAgentService(store AgentStore, instances InstanceController, assignments *AssignmentService, followUps OwnerFollowUps, log zerolog.Logger) *AgentService {
	return &AgentService{
		store:       store,
		instances:   instances,
		assignments: assignments,
		followUps:   followUps,
		log:         log.With().Str("component", "agents").Logger(),
	}
}

// Create registers an active agent and starts its instance. A failing
// start is logged; the agent can start it later.
func (s *AgentService) Create(ctx context.Context, displayName, role string) (*models.Agent, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("display name is required")
	}
	if role != models.AgentRoleAdmin {
		role = models.AgentRoleAgent
	}

	agent := &models.Agent{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Role:        role,
		Active:      true,
	}
	if err := s.store.Create(ctx, agent); err != nil {
		return nil, err
	}
	s.log.Info().Str("agent_id", agent.ID).Str("name", agent.DisplayName).Msg("agent created")

	if _, err := s.instances.Start(ctx, agent.ID, agent.DisplayName); err != nil {
		s.log.Warn().Err(err).Str("agent_id", agent.ID).Msg("instance start failed")
	}
	return agent, nil
}

// List returns every agent
func (s *AgentService) List(ctx context.Context) ([]models.Agent, error) {
	agents, err := s.store.List(ctx)
	if agents == nil && err == nil {
		agents = []models.Agent{}
	}
	return agents, err
}

// Get returns the agent or ErrAgentNotFound
func (s *AgentService) Get(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

// StartInstance starts the instance of an active agent. Inactive agents
// get ErrAgentInactive; SetActive is the way back.
func (s *AgentService) StartInstance(ctx context.Context, id string) (whatsapp.InstanceInfo, error) {
	agent, err := s.Get(ctx, id)
	if err != nil {
		return whatsapp.InstanceInfo{}, err
	}
	if !agent.Active {
		return whatsapp.InstanceInfo{}, ErrAgentInactive
	}
	return s.instances.Start(ctx, agent.ID, agent.DisplayName)
}

// SetActive activates or deactivates an agent, starting or stopping its
// instance to match
func (s *AgentService) SetActive(ctx context.Context, id string, active bool) (*models.Agent, error) {
	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.Active != active {
		agent.Active = active
		if err := s.store.Update(ctx, agent); err != nil {
			return nil, err
		}
	}

	if active {
		if _, err := s.instances.Start(ctx, agent.ID, agent.DisplayName); err != nil {
			return agent, fmt.Errorf("start instance: %w", err)
		}
		return agent, nil
	}
	if err := s.instances.Stop(ctx, agent.ID); err != nil {
		return agent, fmt.Errorf("stop instance: %w", err)
	}
	return agent, nil
}

// Delete stops the agent's instance, cancels its follow-ups, releases its
// contacts and removes it
func (s *AgentService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.instances.Stop(ctx, id); err != nil {
		return fmt.Errorf("stop instance: %w", err)
	}
	if s.followUps != nil {
		n, err := s.followUps.CancelByOwner(ctx, id, "agent deleted")
		if err != nil {
			return fmt.Errorf("cancel follow-ups: %w", err)
		}
		if n > 0 {
			s.log.Info().Str("agent_id", id).Int("follow_ups", n).Msg("follow-ups cancelled")
		}
	}
	if _, err := s.assignments.ReleaseAgent(ctx, id); err != nil {
		return err
	}
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrAgentNotFound
	}
	s.log.Info().Str("agent_id", id).Msg("agent deleted")
	return nil
}

// StartActive starts the instance of every active agent and returns how
// many started
func (s *AgentService) StartActive(ctx context.Context) (int, error) {
	agents, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, a := range agents {
		if _, err := s.instances.Start(ctx, a.ID, a.DisplayName); err != nil {
			s.log.Error().Err(err).Str("agent_id", a.ID).Msg("instance start failed")
			continue
		}
		started++
	}
	s.log.Info().Int("started", started).Int("active", len(agents)).Msg("active instances started")
	return started, nil
}
