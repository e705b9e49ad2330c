package handlers

import (
	"net/http"
	"strconv"

	"soporte_wa/internal/services"

	"github.com/gorilla/mux"
)

// ConversationHandler serves contacts and conversation logs
type ConversationHandler struct {
	assignments *services.AssignmentService
	logs        *services.ConversationLogger
	purge       *services.PurgeService
}

func NewConversationHandler(assignments *services.AssignmentService, logs *services.ConversationLogger, purge *services.PurgeService) *ConversationHandler {
	return &ConversationHandler{assignments: assignments, logs: logs, purge: purge}
}

// MyContacts lists the caller's contacts, most recently active first
func (h *ConversationHandler) MyContacts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.assignments.ListForAgent(r.Context(), agentID(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, rows)
}

// Messages returns a contact's conversation. Only its owner and admins
// may read it.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["id"]
	if err := h.checkAccess(r, contactID); err != nil {
		failErr(w, err)
		return
	}
	rows, err := h.logs.ByContact(r.Context(), contactID)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, rows)
}

// DeleteContact purges the contact's conversation, assignment and follow-up
func (h *ConversationHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["id"]
	if err := h.checkAccess(r, contactID); err != nil {
		failErr(w, err)
		return
	}
	res, err := h.purge.Purge(r.Context(), contactID)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// Logs lists one day of entries: ?date=YYYY-MM-DD&limit=&offset=
func (h *ConversationHandler) Logs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, err := h.logs.ParseDay(q.Get("date"))
	if err != nil {
		failErr(w, badRequest("%v", err))
		return
	}
	limit, err := intParam(q.Get("limit"), services.DefaultLogPageSize)
	if err != nil {
		failErr(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		failErr(w, err)
		return
	}
	rows, err := h.logs.ByDate(r.Context(), day, limit, offset)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"date":    day.Format("2006-01-02"),
		"entries": rows,
	})
}

func (h *ConversationHandler) Dates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.logs.AvailableDates(r.Context())
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, dates)
}

func (h *ConversationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	day, err := h.logs.ParseDay(r.URL.Query().Get("date"))
	if err != nil {
		failErr(w, badRequest("%v", err))
		return
	}
	stats, err := h.logs.Stats(r.Context(), day)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"date":  day.Format("2006-01-02"),
		"stats": stats,
	})
}

func (h *ConversationHandler) checkAccess(r *http.Request, contactID string) error {
	if isAdmin(r) {
		return nil
	}
	row, err := h.assignments.Get(r.Context(), contactID)
	if err != nil {
		return err
	}
	if row == nil {
		return errNotFound
	}
	if row.OwnerAgentID != agentID(r) {
		return services.ErrForeignContact
	}
	return nil
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid number %q", raw)
	}
	return n, nil
}
