package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"soporte_wa/internal/models"
	"soporte_wa/internal/repo"
	"soporte_wa/internal/whatsapp"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstances struct {
	mu       sync.Mutex
	running  map[string]bool
	starts   int
	startErr error
}

func (f *fakeInstances) Start(_ context.Context, agentID, label string) (whatsapp.InstanceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return whatsapp.InstanceInfo{}, f.startErr
	}
	if f.running == nil {
		f.running = map[string]bool{}
	}
	f.running[agentID] = true
	return whatsapp.InstanceInfo{AgentID: agentID, Label: label}, nil
}

func (f *fakeInstances) Stop(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, agentID)
	return nil
}

func (f *fakeInstances) isRunning(agentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[agentID]
}

type agentFixture struct {
	svc         *AgentService
	instances   *fakeInstances
	assignments *AssignmentService
	followUps   *FollowUpScheduler
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &agentFixture{
		instances:   &fakeInstances{},
		assignments: NewAssignmentService(repo.NewAssignmentRepository(db), zerolog.Nop()),
		followUps:   NewFollowUpScheduler(repo.NewFollowUpRepository(db), nil, nil, testFollowUpOptions(), zerolog.Nop()),
	}
	f.svc = NewAgentService(repo.NewAgentRepository(db), f.instances, f.assignments, f.followUps, zerolog.Nop())
	return f
}

func TestCreateAgentStartsInstance(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent, err := f.svc.Create(ctx, "  Ana  ", "superuser")
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, "Ana", agent.DisplayName)
	assert.Equal(t, models.AgentRoleAgent, agent.Role)
	assert.True(t, agent.Active)
	assert.True(t, f.instances.isRunning(agent.ID))

	_, err = f.svc.Create(ctx, " ", "")
	assert.Error(t, err)
}

func TestCreateAgentSurvivesStartFailure(t *testing.T) {
	f := newAgentFixture(t)
	f.instances.startErr = errors.New("store unavailable")

	agent, err := f.svc.Create(context.Background(), "Luis", models.AgentRoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.AgentRoleAdmin, agent.Role)

	got, err := f.svc.Get(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Luis", got.DisplayName)
}

func TestSetActiveTogglesInstance(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	agent, err := f.svc.Create(ctx, "Ana", "")
	require.NoError(t, err)

	got, err := f.svc.SetActive(ctx, agent.ID, false)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.False(t, f.instances.isRunning(agent.ID))

	_, err = f.svc.SetActive(ctx, agent.ID, true)
	require.NoError(t, err)
	assert.True(t, f.instances.isRunning(agent.ID))

	_, err = f.svc.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestStartInstanceRefusesInactiveAgent(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	agent, err := f.svc.Create(ctx, "Ana", "")
	require.NoError(t, err)
	_, err = f.svc.SetActive(ctx, agent.ID, false)
	require.NoError(t, err)

	_, err = f.svc.StartInstance(ctx, agent.ID)
	assert.ErrorIs(t, err, ErrAgentInactive)
	assert.False(t, f.instances.isRunning(agent.ID))

	_, err = f.svc.SetActive(ctx, agent.ID, true)
	require.NoError(t, err)
	info, err := f.svc.StartInstance(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", info.Label)

	_, err = f.svc.StartInstance(ctx, "missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestDeleteAgentCancelsFollowUps(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	agent, err := f.svc.Create(ctx, "Ana", "")
	require.NoError(t, err)

	_, err = f.followUps.Start(ctx, "120-group", agent.ID)
	require.NoError(t, err)
	_, err = f.followUps.Start(ctx, "130-group", agent.ID)
	require.NoError(t, err)
	_, err = f.followUps.Start(ctx, "140-group", "other")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, agent.ID))

	rows := f.followUps.List()
	require.Len(t, rows, 1)
	assert.Equal(t, "140-group", rows[0].ContactID)
}

func TestDeleteAgentReleasesContacts(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	agent, err := f.svc.Create(ctx, "Ana", "")
	require.NoError(t, err)

	_, created, err := f.assignments.ClaimOrGetOwner(ctx, models.ClientAssignment{
		ContactID: "120-group", OwnerAgentID: agent.ID, IsGroup: true,
	})
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, f.svc.Delete(ctx, agent.ID))
	assert.False(t, f.instances.isRunning(agent.ID))

	row, err := f.assignments.Get(ctx, "120-group")
	require.NoError(t, err)
	assert.Nil(t, row)

	_, err = f.svc.Get(ctx, agent.ID)
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, agent.ID), ErrAgentNotFound)
}

func TestStartActiveSkipsInactive(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	a, err := f.svc.Create(ctx, "Ana", "")
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, "Luis", "")
	require.NoError(t, err)
	_, err = f.svc.SetActive(ctx, b.ID, false)
	require.NoError(t, err)

	f.instances.running = nil
	started, err := f.svc.StartActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	assert.True(t, f.instances.isRunning(a.ID))
	assert.False(t, f.instances.isRunning(b.ID))
}

func TestCheckOwner(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.assignments.CheckOwner(ctx, "120-group", "A"), "unassigned contacts pass")

	_, _, err := f.assignments.ClaimOrGetOwner(ctx, models.ClientAssignment{ContactID: "120-group", OwnerAgentID: "A"})
	require.NoError(t, err)
	_, created, err := f.assignments.ClaimOrGetOwner(ctx, models.ClientAssignment{ContactID: "120-group", OwnerAgentID: "B"})
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, f.assignments.CheckOwner(ctx, "120-group", "A"))
	assert.ErrorIs(t, f.assignments.CheckOwner(ctx, "120-group", "B"), ErrForeignContact)
}

func TestPurgeRemovesEverything(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	logs := NewConversationLogger(repo.NewConversationLogRepository(db), time.UTC, zerolog.Nop())
	assignments := NewAssignmentService(repo.NewAssignmentRepository(db), zerolog.Nop())
	followUps := NewFollowUpScheduler(repo.NewFollowUpRepository(db), logs, nil, testFollowUpOptions(), zerolog.Nop())
	purge := NewPurgeService(logs, assignments, followUps, zerolog.Nop())

	_, _, err := assignments.ClaimOrGetOwner(ctx, models.ClientAssignment{ContactID: "120-group", OwnerAgentID: "A"})
	require.NoError(t, err)
	require.NoError(t, logs.Append(ctx, &models.ConversationLog{Role: models.RoleClient, ContactID: "120-group", Text: "hola"}))
	_, err = followUps.Start(ctx, "120-group", "A")
	require.NoError(t, err)

	res, err := purge.Purge(ctx, "120-group")
	require.NoError(t, err)
	assert.True(t, res.FollowUpCanceled)
	assert.Equal(t, int64(2), res.EntriesDeleted, "client entry and follow-up start note")
	assert.Zero(t, logs.Pending())

	rows, err := logs.ByContact(ctx, "120-group")
	require.NoError(t, err)
	assert.Empty(t, rows)
	row, err := assignments.Get(ctx, "120-group")
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.False(t, followUps.Has("120-group"))
}
