package dms

import (
	"net/http"

	"github.com/Vasu1712/scenyx-relay/internal/middleware"
	"github.com/gorilla/mux"
)

// RegisterDMRoutes registers the REST endpoints under /api.
func RegisterDMRoutes(r *mux.Router, handler *DMHandler) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/session", handler.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/ws-token", handler.IssueWSToken).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.RequireUser(handler.Resolver))
	authed.HandleFunc("/messages", handler.GetMessages).Methods(http.MethodGet)
	authed.HandleFunc("/messages", handler.SendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/conversation/{conversationId}/other-user", handler.GetOtherUser).Methods(http.MethodGet)
}
