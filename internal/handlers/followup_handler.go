package handlers

import (
	"net/http"

	"soporte_wa/internal/models"
	"soporte_wa/internal/services"

	"github.com/gorilla/mux"
)

// FollowUpHandler starts, inspects and cancels follow-ups
type FollowUpHandler struct {
	followUps   *services.FollowUpScheduler
	assignments *services.AssignmentService
}

func NewFollowUpHandler(followUps *services.FollowUpScheduler, assignments *services.AssignmentService) *FollowUpHandler {
	return &FollowUpHandler{followUps: followUps, assignments: assignments}
}

type classificationRequest struct {
	Status string `json:"status" validate:"required"`
}

// List returns the caller's follow-ups, every follow-up for admins
func (h *FollowUpHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.followUps.List()
	if isAdmin(r) {
		respond(w, http.StatusOK, all)
		return
	}
	mine := make([]models.FollowUp, 0, len(all))
	for _, f := range all {
		if f.OwnerAgentID == agentID(r) {
			mine = append(mine, f)
		}
	}
	respond(w, http.StatusOK, mine)
}

// Start schedules a follow-up on the caller's contact
func (h *FollowUpHandler) Start(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["id"]
	id := agentID(r)
	if err := h.assignments.CheckOwner(r.Context(), contactID, id); err != nil {
		failErr(w, err)
		return
	}
	row, err := h.followUps.Start(r.Context(), contactID, id)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, row)
}

func (h *FollowUpHandler) Get(w http.ResponseWriter, r *http.Request) {
	row, ok := h.followUps.Get(mux.Vars(r)["id"])
	if !ok || (!isAdmin(r) && row.OwnerAgentID != agentID(r)) {
		failErr(w, errNotFound)
		return
	}
	respond(w, http.StatusOK, row)
}

func (h *FollowUpHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["id"]
	if row, ok := h.followUps.Get(contactID); ok && !isAdmin(r) && row.OwnerAgentID != agentID(r) {
		failErr(w, services.ErrForeignContact)
		return
	}
	cancelled, err := h.followUps.Cancel(r.Context(), contactID, "cancelled by agent")
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// Classification applies the classifier verdict on the contact's last message
func (h *FollowUpHandler) Classification(w http.ResponseWriter, r *http.Request) {
	var req classificationRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	contactID := mux.Vars(r)["id"]
	if row, ok := h.followUps.Get(contactID); ok && !isAdmin(r) && row.OwnerAgentID != agentID(r) {
		failErr(w, services.ErrForeignContact)
		return
	}
	cancelled, err := h.followUps.ApplyClassification(r.Context(), contactID, req.Status)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"status": req.Status, "cancelled": cancelled})
}
