package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"soporte_wa/internal/config"
	"soporte_wa/internal/database"
	"soporte_wa/internal/models"
	"soporte_wa/internal/repo"
	"soporte_wa/internal/services"
	"soporte_wa/internal/whatsapp"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "admin-key"

type apiFixture struct {
	h           http.Handler
	manager     *whatsapp.Manager
	factory     *whatsapp.MockSessionFactory
	agents      *services.AgentService
	assignments *services.AssignmentService
	auth        *services.AuthService
}

func newAPIFixture(t *testing.T, onConnect func(*whatsapp.MockSession)) *apiFixture {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Type: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	media, err := whatsapp.NewFileMediaStore(t.TempDir())
	require.NoError(t, err)

	log := zerolog.Nop()
	logs := services.NewConversationLogger(repo.NewConversationLogRepository(db), time.UTC, log)
	assignments := services.NewAssignmentService(repo.NewAssignmentRepository(db), log)
	followUps := services.NewFollowUpScheduler(repo.NewFollowUpRepository(db), logs, nil, services.DefaultFollowUpOptions(), log)
	router := whatsapp.NewRouter(whatsapp.RouterDeps{
		Assignments:   assignments,
		Conversations: logs,
		FollowUps:     followUps,
		Media:         media,
		Logger:        log,
	})

	f := &apiFixture{factory: &whatsapp.MockSessionFactory{OnConnect: onConnect}, assignments: assignments}
	f.manager = whatsapp.NewManager(whatsapp.ManagerDeps{
		Sessions:      f.factory,
		Credentials:   &whatsapp.MockCredentialStore{},
		Instances:     repo.NewInstanceRepository(db),
		Router:        router,
		Conversations: logs,
		Media:         media,
		Logger:        log,
	}, whatsapp.Options{ReconnectDelay: 5 * time.Millisecond, LogoutRestartDelay: 5 * time.Millisecond, MaxReconnectAttempts: 3})
	t.Cleanup(func() { f.manager.StopAll(context.Background()) })

	f.auth = services.NewAuthService("test-secret", time.Hour, testAdminKey)
	f.agents = services.NewAgentService(repo.NewAgentRepository(db), f.manager, assignments, followUps, log)
	f.h = NewRouter(Deps{
		Auth:        f.auth,
		Agents:      f.agents,
		Assignments: assignments,
		Logs:        logs,
		FollowUps:   followUps,
		Purge:       services.NewPurgeService(logs, assignments, followUps, log),
		Manager:     f.manager,
		MediaDir:    media.Root(),
		Ping:        func() error { return database.Ping(db) },
		Logger:      log,
	})
	return f
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)

	var resp apiResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp
}

func (f *apiFixture) agentToken(t *testing.T, name string) (string, *models.Agent) {
	t.Helper()
	agent, err := f.agents.Create(context.Background(), name, "")
	require.NoError(t, err)
	token, err := f.auth.GenerateToken(agent.ID, agent.Role)
	require.NoError(t, err)
	return token, agent
}

func connected(s *whatsapp.MockSession) {
	s.Emit(whatsapp.Connected{PhoneNumber: "5215550001@s.whatsapp.net", DeviceID: "5215550001:7@s.whatsapp.net"})
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)
	code, _ := f.do(t, "GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestIssueToken(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, agent := f.agentToken(t, "Ana")

	code, resp := f.do(t, "POST", "/api/auth/token", "", map[string]string{"admin_key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	code, resp = f.do(t, "POST", "/api/auth/token", "", map[string]string{"admin_key": testAdminKey, "agent_id": "missing"})
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = f.do(t, "POST", "/api/auth/token", "", map[string]string{"admin_key": testAdminKey, "agent_id": agent.ID})
	require.Equal(t, http.StatusOK, code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	claims, err := f.auth.ValidateToken(out["token"])
	require.NoError(t, err)
	assert.Equal(t, agent.ID, claims.AgentID)
}

func TestAuthAndAdminGuards(t *testing.T) {
	f := newAPIFixture(t, nil)
	token, _ := f.agentToken(t, "Ana")

	code, _ := f.do(t, "GET", "/api/my-contacts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(t, "GET", "/api/my-contacts", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, "GET", "/api/agents", token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	admin, err := f.auth.GenerateToken("admin", models.AgentRoleAdmin)
	require.NoError(t, err)
	code, resp := f.do(t, "POST", "/api/agents", admin, map[string]string{"display_name": "Luis"})
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, resp.Success)

	code, _ = f.do(t, "POST", "/api/agents", admin, map[string]string{"display_name": "Luis", "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSendErrorStatuses(t *testing.T) {
	f := newAPIFixture(t, nil)
	token, agent := f.agentToken(t, "Ana")

	code, _ := f.do(t, "POST", "/api/my-instance/send-text", token, map[string]string{"contact_id": "120-group"})
	assert.Equal(t, http.StatusBadRequest, code, "missing text")

	code, resp := f.do(t, "POST", "/api/my-instance/send-text", token, map[string]string{"contact_id": "120-group", "text": "hola"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, resp.Error, "not connected")

	_, _, err := f.assignments.ClaimOrGetOwner(context.Background(), models.ClientAssignment{ContactID: "130-group", OwnerAgentID: "someone-else"})
	require.NoError(t, err)
	code, _ = f.do(t, "POST", "/api/my-instance/send-text", token, map[string]string{"contact_id": "130-group", "text": "hola"})
	assert.Equal(t, http.StatusForbidden, code)

	require.NoError(t, f.manager.Stop(context.Background(), agent.ID))
	code, resp = f.do(t, "POST", "/api/my-instance/send-text", token, map[string]string{"contact_id": "120-group", "text": "hola"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, resp.Error, "instance not available")
}

func TestSendAndReadConversation(t *testing.T) {
	f := newAPIFixture(t, connected)
	token, agent := f.agentToken(t, "Ana")
	require.Eventually(t, func() bool { return f.manager.IsConnected(agent.ID) }, 2*time.Second, 5*time.Millisecond)

	_, _, err := f.assignments.ClaimOrGetOwner(context.Background(), models.ClientAssignment{ContactID: "120-group", OwnerAgentID: agent.ID, IsGroup: true})
	require.NoError(t, err)

	code, resp := f.do(t, "POST", "/api/my-instance/send-text", token, map[string]string{"contact_id": "120-group", "text": "en camino"})
	require.Equal(t, http.StatusOK, code, resp.Error)

	code, resp = f.do(t, "GET", "/api/contacts/120-group/messages", token, nil)
	require.Equal(t, http.StatusOK, code)
	var entries []models.ConversationLog
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.RoleAgent, entries[0].Role)
	assert.Equal(t, "Ana", entries[0].AuthorName)

	other, _ := f.agentToken(t, "Luis")
	code, _ = f.do(t, "GET", "/api/contacts/120-group/messages", other, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = f.do(t, "GET", "/api/my-contacts", token, nil)
	require.Equal(t, http.StatusOK, code)
	var contacts []models.ClientAssignment
	require.NoError(t, json.Unmarshal(resp.Data, &contacts))
	require.Len(t, contacts, 1)

	code, _ = f.do(t, "DELETE", "/api/contacts/120-group", token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, "GET", "/api/contacts/120-group/messages", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeactivatedAgentCannotStartInstance(t *testing.T) {
	f := newAPIFixture(t, nil)
	token, agent := f.agentToken(t, "Ana")

	_, err := f.agents.SetActive(context.Background(), agent.ID, false)
	require.NoError(t, err)
	require.False(t, f.manager.IsConnected(agent.ID))

	code, resp := f.do(t, "POST", "/api/my-instance/start", token, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, resp.Error, "inactive")
	_, live := f.manager.Get(agent.ID)
	assert.False(t, live)

	admin, err := f.auth.GenerateToken("admin", models.AgentRoleAdmin)
	require.NoError(t, err)
	code, _ = f.do(t, "POST", "/api/instances/"+agent.ID+"/start", admin, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestForwardIsScopedToCaller(t *testing.T) {
	f := newAPIFixture(t, connected)
	ctx := context.Background()
	tokenA, a := f.agentToken(t, "Ana")
	tokenB, b := f.agentToken(t, "Luis")
	require.Eventually(t, func() bool {
		return f.manager.IsConnected(a.ID) && f.manager.IsConnected(b.ID)
	}, 2*time.Second, 5*time.Millisecond)

	for contact, owner := range map[string]string{"120-a": a.ID, "120-b": b.ID} {
		_, _, err := f.assignments.ClaimOrGetOwner(ctx, models.ClientAssignment{ContactID: contact, OwnerAgentID: owner, IsGroup: true})
		require.NoError(t, err)
	}

	code, resp := f.do(t, "POST", "/api/my-instance/send-text", tokenA, map[string]string{"contact_id": "120-a", "text": "secret for A's client"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	var rcpt whatsapp.Receipt
	require.NoError(t, json.Unmarshal(resp.Data, &rcpt))
	require.NotEmpty(t, rcpt.MessageID)

	sentByB := func() int {
		n := 0
		for _, s := range f.factory.Sessions() {
			if s.AgentID == b.ID {
				n += len(s.Sent())
			}
		}
		return n
	}

	code, _ = f.do(t, "POST", "/api/my-instance/forward", tokenB, map[string]string{"contact_id": "120-b", "message_id": rcpt.MessageID})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Zero(t, sentByB())

	code, resp = f.do(t, "POST", "/api/my-instance/forward", tokenA, map[string]string{"contact_id": "120-a", "message_id": rcpt.MessageID})
	assert.Equal(t, http.StatusOK, code, resp.Error)
}

func TestFollowUpRoutes(t *testing.T) {
	f := newAPIFixture(t, nil)
	token, _ := f.agentToken(t, "Ana")

	code, _ := f.do(t, "POST", "/api/follow-ups/120-group", token, nil)
	require.Equal(t, http.StatusCreated, code)

	code, _ = f.do(t, "GET", "/api/follow-ups/120-group", token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, "POST", "/api/follow-ups/120-group/classification", token, map[string]string{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := f.do(t, "POST", "/api/follow-ups/120-group/classification", token, map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"cancelled":true`)

	code, _ = f.do(t, "GET", "/api/follow-ups/120-group", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, "DELETE", "/api/follow-ups/120-group", token, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestQRRendersPendingPairing(t *testing.T) {
	f := newAPIFixture(t, func(s *whatsapp.MockSession) {
		s.Emit(whatsapp.PairingCode{Payload: "2@abc,def,ghi"})
	})
	token, agent := f.agentToken(t, "Ana")
	require.Eventually(t, func() bool {
		info, ok := f.manager.Get(agent.ID)
		return ok && info.State == whatsapp.StateQRReady
	}, 2*time.Second, 5*time.Millisecond)

	code, resp := f.do(t, "GET", "/api/my-instance/qr", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), "data:image/png;base64,")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{whatsapp.ErrInstanceNotFound, http.StatusNotFound},
		{whatsapp.ErrInstanceNotConnected, http.StatusConflict},
		{services.ErrAgentInactive, http.StatusConflict},
		{services.ErrForeignContact, http.StatusForbidden},
		{badRequest("x"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
