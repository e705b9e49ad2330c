package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"soporte_wa/internal/services"
	"soporte_wa/internal/whatsapp"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Deps are the services behind the HTTP surface
type Deps struct {
	Auth        *services.AuthService
	Agents      *services.AgentService
	Assignments *services.AssignmentService
	Logs        *services.ConversationLogger
	FollowUps   *services.FollowUpScheduler
	Purge       *services.PurgeService
	Manager     *whatsapp.Manager
	// MediaDir is served under /media/.
	MediaDir string
	// Ping checks the database for /api/health.
	Ping   func() error
	Logger zerolog.Logger
}

// NewRouter builds the HTTP handler with CORS applied
func NewRouter(d Deps) http.Handler {
	authH := NewAuthHandler(d.Auth, d.Agents)
	agentH := NewAgentHandler(d.Agents)
	instH := NewInstanceHandler(d.Manager, d.Agents, d.Assignments, d.Logger)
	convH := NewConversationHandler(d.Assignments, d.Logs, d.Purge)
	fuH := NewFollowUpHandler(d.FollowUps, d.Assignments)

	r := mux.NewRouter()
	r.Use(accessLog(d.Logger))

	r.HandleFunc("/api/health", health(d.Ping)).Methods("GET")
	r.HandleFunc("/api/auth/token", authH.IssueToken).Methods("POST")
	if d.MediaDir != "" {
		r.PathPrefix("/media/").Handler(http.StripPrefix("/media/", http.FileServer(http.Dir(d.MediaDir)))).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authenticate(d.Auth))

	// Agent's own instance
	api.HandleFunc("/my-instance", instH.Status).Methods("GET")
	api.HandleFunc("/my-instance/qr", instH.QR).Methods("GET")
	api.HandleFunc("/my-instance/start", instH.Start).Methods("POST")
	api.HandleFunc("/my-instance/stop", instH.Stop).Methods("POST")
	api.HandleFunc("/my-instance/logout", instH.Logout).Methods("POST")
	api.HandleFunc("/my-instance/send-text", instH.SendText).Methods("POST")
	api.HandleFunc("/my-instance/send-image", instH.SendMedia(whatsapp.MediaImage)).Methods("POST")
	api.HandleFunc("/my-instance/send-video", instH.SendMedia(whatsapp.MediaVideo)).Methods("POST")
	api.HandleFunc("/my-instance/send-audio", instH.SendMedia(whatsapp.MediaAudio)).Methods("POST")
	api.HandleFunc("/my-instance/send-document", instH.SendMedia(whatsapp.MediaDocument)).Methods("POST")
	api.HandleFunc("/my-instance/send-sticker", instH.SendMedia(whatsapp.MediaSticker)).Methods("POST")
	api.HandleFunc("/my-instance/send-location", instH.SendLocation).Methods("POST")
	api.HandleFunc("/my-instance/send-contact", instH.SendContact).Methods("POST")
	api.HandleFunc("/my-instance/react", instH.React).Methods("POST")
	api.HandleFunc("/my-instance/edit", instH.Edit).Methods("POST")
	api.HandleFunc("/my-instance/delete", instH.DeleteMessage).Methods("POST")
	api.HandleFunc("/my-instance/forward", instH.Forward).Methods("POST")
	api.HandleFunc("/my-instance/mark-read", instH.MarkRead).Methods("POST")
	api.HandleFunc("/my-instance/presence", instH.Presence).Methods("POST")

	// Contacts and conversations
	api.HandleFunc("/my-contacts", convH.MyContacts).Methods("GET")
	api.HandleFunc("/contacts/{id}/messages", convH.Messages).Methods("GET")
	api.HandleFunc("/contacts/{id}", convH.DeleteContact).Methods("DELETE")

	// Follow-ups
	api.HandleFunc("/follow-ups", fuH.List).Methods("GET")
	api.HandleFunc("/follow-ups/{id}", fuH.Start).Methods("POST")
	api.HandleFunc("/follow-ups/{id}", fuH.Get).Methods("GET")
	api.HandleFunc("/follow-ups/{id}", fuH.Cancel).Methods("DELETE")
	api.HandleFunc("/follow-ups/{id}/classification", fuH.Classification).Methods("POST")

	// Admin
	admin := api.NewRoute().Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/agents", agentH.List).Methods("GET")
	admin.HandleFunc("/agents", agentH.Create).Methods("POST")
	admin.HandleFunc("/agents/{id}", agentH.Get).Methods("GET")
	admin.HandleFunc("/agents/{id}", agentH.Update).Methods("PATCH")
	admin.HandleFunc("/agents/{id}", agentH.Delete).Methods("DELETE")
	admin.HandleFunc("/instances", instH.List).Methods("GET")
	admin.HandleFunc("/instances/{id}/start", instH.AdminStart).Methods("POST")
	admin.HandleFunc("/instances/{id}/stop", instH.AdminStop).Methods("POST")
	admin.HandleFunc("/instances/{id}/logout", instH.AdminLogout).Methods("POST")
	admin.HandleFunc("/logs", convH.Logs).Methods("GET")
	admin.HandleFunc("/logs/dates", convH.Dates).Methods("GET")
	admin.HandleFunc("/logs/stats", convH.Stats).Methods("GET")

	return corsMiddleware(r)
}

func health(ping func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":   "ok",
			"database": "ok",
			"time":     time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK
		if ping != nil {
			if err := ping(); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["database"] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}
