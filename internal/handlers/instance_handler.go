package handlers

import (
	"net/http"

	"soporte_wa/internal/services"
	"soporte_wa/internal/whatsapp"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// InstanceHandler exposes the agents' WhatsApp instances. Agents act on
// their own instance through /api/my-instance; admins see all of them.
type InstanceHandler struct {
	manager     *whatsapp.Manager
	agents      *services.AgentService
	assignments *services.AssignmentService
	log         zerolog.Logger
}

func NewInstanceHandler(manager *whatsapp.Manager, agents *services.AgentService, assignments *services.AssignmentService, log zerolog.Logger) *InstanceHandler {
	return &InstanceHandler{manager: manager, agents: agents, assignments: assignments, log: log}
}

// List returns every live instance
func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.manager.List())
}

func (h *InstanceHandler) AdminStart(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, mux.Vars(r)["id"])
}

func (h *InstanceHandler) AdminStop(w http.ResponseWriter, r *http.Request) {
	h.stop(w, r, mux.Vars(r)["id"])
}

func (h *InstanceHandler) AdminLogout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, mux.Vars(r)["id"])
}

// Status returns the caller's instance
func (h *InstanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	info, ok := h.manager.Get(agentID(r))
	if !ok {
		failErr(w, whatsapp.ErrInstanceNotFound)
		return
	}
	respond(w, http.StatusOK, info)
}

// QR renders the pending pairing code of the caller's instance
func (h *InstanceHandler) QR(w http.ResponseWriter, r *http.Request) {
	info, ok := h.manager.Get(agentID(r))
	if !ok {
		failErr(w, whatsapp.ErrInstanceNotFound)
		return
	}
	if info.State == whatsapp.StateConnected {
		respond(w, http.StatusOK, map[string]interface{}{"qr": "", "state": info.State})
		return
	}
	img, err := whatsapp.RenderQR(info.QRPayload, 256)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"qr": img, "state": info.State})
}

func (h *InstanceHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, agentID(r))
}

func (h *InstanceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.stop(w, r, agentID(r))
}

func (h *InstanceHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, agentID(r))
}

func (h *InstanceHandler) start(w http.ResponseWriter, r *http.Request, id string) {
	info, err := h.agents.StartInstance(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("agent_id", id).Msg("instance start failed")
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, info)
}

func (h *InstanceHandler) stop(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.manager.Stop(r.Context(), id); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"agent_id": id, "state": string(whatsapp.StateDisconnected)})
}

func (h *InstanceHandler) logout(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.manager.Logout(r.Context(), id); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"agent_id": id, "message": "logged out, pairing restarts shortly"})
}

// sendTarget is the common part of every outbound request
type sendTarget struct {
	ContactID string               `json:"contact_id" validate:"required"`
	ReplyTo   *whatsapp.MessageRef `json:"reply_to" validate:"omitempty"`
}

type sendTextRequest struct {
	sendTarget
	Text string `json:"text" validate:"required"`
}

type sendMediaRequest struct {
	sendTarget
	Data     []byte `json:"data" validate:"required"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
	PTT      bool   `json:"ptt"`
}

type sendLocationRequest struct {
	sendTarget
	Location whatsapp.LocationPayload `json:"location"`
}

type sendContactRequest struct {
	sendTarget
	Contact whatsapp.ContactPayload `json:"contact"`
}

type reactRequest struct {
	ContactID string              `json:"contact_id" validate:"required"`
	Target    whatsapp.MessageRef `json:"target"`
	Emoji     string              `json:"emoji"`
}

type editRequest struct {
	ContactID string              `json:"contact_id" validate:"required"`
	Target    whatsapp.MessageRef `json:"target"`
	Text      string              `json:"text" validate:"required"`
}

type deleteMessageRequest struct {
	ContactID string              `json:"contact_id" validate:"required"`
	Target    whatsapp.MessageRef `json:"target"`
}

type forwardRequest struct {
	ContactID string `json:"contact_id" validate:"required"`
	MessageID string `json:"message_id" validate:"required"`
}

type markReadRequest struct {
	ContactID  string   `json:"contact_id" validate:"required"`
	Sender     string   `json:"sender"`
	MessageIDs []string `json:"message_ids" validate:"required,min=1,dive,required"`
}

type presenceRequest struct {
	ContactID string `json:"contact_id" validate:"required"`
	Presence  string `json:"presence" validate:"required,oneof=composing recording paused"`
}

// authorize resolves the caller and checks they may talk to contactID
func (h *InstanceHandler) authorize(r *http.Request, contactID string) (string, whatsapp.SendOptions, error) {
	id := agentID(r)
	if err := h.assignments.CheckOwner(r.Context(), contactID, id); err != nil {
		return "", whatsapp.SendOptions{}, err
	}
	opts := whatsapp.SendOptions{}
	if info, ok := h.manager.Get(id); ok {
		opts.AuthorName = info.Label
	}
	return id, opts, nil
}

func (h *InstanceHandler) SendText(w http.ResponseWriter, r *http.Request) {
	var req sendTextRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	id, opts, err := h.authorize(r, req.ContactID)
	if err != nil {
		failErr(w, err)
		return
	}
	opts.ReplyTo = req.ReplyTo
	h.sent(w, id, req.ContactID)(h.manager.SendMessage(r.Context(), id, req.ContactID, req.Text, opts))
}

// SendMedia returns the handler sending one media kind
func (h *InstanceHandler) SendMedia(kind whatsapp.MediaKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMediaRequest
		if err := decode(r, &req); err != nil {
			failErr(w, err)
			return
		}
		if kind == whatsapp.MediaDocument && req.Filename == "" {
			failErr(w, badRequest("filename is required for documents"))
			return
		}
		id, opts, err := h.authorize(r, req.ContactID)
		if err != nil {
			failErr(w, err)
			return
		}
		opts.ReplyTo = req.ReplyTo
		up := whatsapp.MediaUpload{Data: req.Data, MimeType: req.MimeType, Filename: req.Filename, Caption: req.Caption}

		ctx := r.Context()
		done := h.sent(w, id, req.ContactID)
		switch kind {
		case whatsapp.MediaImage:
			done(h.manager.SendImage(ctx, id, req.ContactID, up, opts))
		case whatsapp.MediaVideo:
			done(h.manager.SendVideo(ctx, id, req.ContactID, up, opts))
		case whatsapp.MediaAudio:
			done(h.manager.SendAudio(ctx, id, req.ContactID, up, req.PTT, opts))
		case whatsapp.MediaDocument:
			done(h.manager.SendDocument(ctx, id, req.ContactID, up, opts))
		case whatsapp.MediaSticker:
			done(h.manager.SendSticker(ctx, id, req.ContactID, up, opts))
		default:
			failErr(w, badRequest("unsupported media kind %q", kind))
		}
	}
}

func (h *InstanceHandler) SendLocation(w http.ResponseWriter, r *http.Request) {
	var req sendLocationRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	id, opts, err := h.authorize(r, req.ContactID)
	if err != nil {
		failErr(w, err)
		return
	}
	opts.ReplyTo = req.ReplyTo
	h.sent(w, id, req.ContactID)(h.manager.SendLocation(r.Context(), id, req.ContactID, req.Location, opts))
}

func (h *InstanceHandler) SendContact(w http.ResponseWriter, r *http.Request) {
	var req sendContactRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	id, opts, err := h.authorize(r, req.ContactID)
	if err != nil {
		failErr(w, err)
		return
	}
	opts.ReplyTo = req.ReplyTo
	h.sent(w, id, req.ContactID)(h.manager.SendContact(r.Context(), id, req.ContactID, req.Contact, opts))
}

// React sends an emoji reaction; an empty emoji removes it
func (h *InstanceHandler) React(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	id, _, err := h.authorize(r, req.ContactID)
	if err != nil {
		failErr(w, err)
		return
	}
	if err := h.manager.React(r.Context(), id, req.ContactID, req.Target, req.Emoji); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"message_id": req.Target.ID})
}

func (h *InstanceHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	id, opts, err := h.authorize(r, req.ContactID)
	if err != nil {
		failErr(w, err)
		return
	}
	h.sent(w, id, req.ContactID)(h.manager.Edit(r.Context(), id, req.ContactID, req.Target, req.Text, opts))
}

func (h *InstanceHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	var req deleteMessageRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	id, opts, err := h.authorize(r, req.ContactID)
	if err != nil {
		failErr(w, err)
		return
	}
	h.sent(w, id, req.ContactID)(h.manager.Delete(r.Context(), id, req.ContactID, req.Target, opts))
}

func (h *InstanceHandler) Forward(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	id, opts, err := h.authorize(r, req.ContactID)
	if err != nil {
		failErr(w, err)
		return
	}
	h.sent(w, id, req.ContactID)(h.manager.Forward(r.Context(), id, req.ContactID, req.MessageID, opts))
}

func (h *InstanceHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	id, _, err := h.authorize(r, req.ContactID)
	if err != nil {
		failErr(w, err)
		return
	}
	if err := h.manager.MarkRead(r.Context(), id, req.ContactID, req.Sender, req.MessageIDs); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]int{"marked": len(req.MessageIDs)})
}

func (h *InstanceHandler) Presence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := decode(r, &req); err != nil {
		failErr(w, err)
		return
	}
	id, _, err := h.authorize(r, req.ContactID)
	if err != nil {
		failErr(w, err)
		return
	}
	if err := h.manager.SetPresence(r.Context(), id, req.ContactID, whatsapp.Presence(req.Presence)); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"presence": req.Presence})
}

// sent writes the outcome of a send
func (h *InstanceHandler) sent(w http.ResponseWriter, agentID, contactID string) func(whatsapp.Receipt, error) {
	return func(rcpt whatsapp.Receipt, err error) {
		if err != nil {
			if !whatsapp.IsUnavailable(err) {
				h.log.Error().Err(err).Str("agent_id", agentID).Str("contact_id", contactID).Msg("send failed")
			}
			failErr(w, err)
			return
		}
		respond(w, http.StatusOK, rcpt)
	}
}
