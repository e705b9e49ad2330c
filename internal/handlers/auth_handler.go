package handlers

import (
	"net/http"

	"soporte_wa/internal/models"
	"soporte_wa/internal/services"
)

// AuthHandler issues agent tokens to holders of the admin key
type AuthHandler struct {
	auth   *services.AuthService
	agents *services.AgentService
}

func NewAuthHandler(auth *services.AuthService, agents *services.AgentService) *AuthHandler {
	return &AuthHandler{auth: auth, agents: agents}
}

type tokenRequest struct {
	AgentID  string `json:"agent_id"`
	AdminKey string `json:"admin_key"`
}

// IssueToken signs a token for agent_id, or an admin token when agent_id
// is empty. The admin key comes from X-Admin-Key or the body.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	key := r.Header.Get("X-Admin-Key")
	if key == "" {
		key = req.AdminKey
	}
	if err := h.auth.CheckAdminKey(key); err != nil {
		failErr(w, err)
		return
	}

	id, role := "admin", models.AgentRoleAdmin
	if req.AgentID != "" {
		agent, err := h.agents.Get(r.Context(), req.AgentID)
		if err != nil {
			failErr(w, err)
			return
		}
		id, role = agent.ID, agent.Role
	}

	token, err := h.auth.GenerateToken(id, role)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{
		"token":    token,
		"agent_id": id,
		"role":     role,
	})
}
