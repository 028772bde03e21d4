package relay

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRelayRoutes registers the websocket endpoint.
func RegisterRelayRoutes(r *mux.Router, handler *RelayHandler) {
	r.HandleFunc("/ws", handler.ServeWS).Methods(http.MethodGet)
}
