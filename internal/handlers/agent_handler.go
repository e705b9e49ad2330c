package handlers

import (
	"net/http"

	"soporte_wa/internal/services"

	"github.com/gorilla/mux"
)

// AgentHandler is the admin surface over agents
type AgentHandler struct {
	agents *services.AgentService
}

func NewAgentHandler(agents *services.AgentService) *AgentHandler {
	return &AgentHandler{agents: agents}
}

type createAgentRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=100"`
	Role        string `json:"role" validate:"omitempty,oneof=admin agent"`
}

type updateAgentRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.List(r.Context())
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, agents)
}

func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	agent, err := h.agents.Create(r.Context(), req.DisplayName, req.Role)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, agent)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.agents.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, agent)
}

// Update toggles whether the agent's instance should run
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateAgentRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	agent, err := h.agents.SetActive(r.Context(), mux.Vars(r)["id"], *req.Active)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, agent)
}

func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.agents.Delete(r.Context(), id); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"deleted": id})
}
