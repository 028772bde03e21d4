package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Vasu1712/scenyx-relay/internal/auth"
	"github.com/Vasu1712/scenyx-relay/internal/logging"
	"github.com/Vasu1712/scenyx-relay/internal/relay"
	"github.com/gorilla/websocket"
)

// RelayHandler upgrades authenticated requests to websockets and hands them to the engine.
type RelayHandler struct {
	Engine   *relay.Engine
	Resolver *auth.Resolver
	Log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewRelayHandler(engine *relay.Engine, resolver *auth.Resolver, allowOrigin string, log *slog.Logger) *RelayHandler {
	return &RelayHandler{
		Engine:   engine,
		Resolver: resolver,
		Log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowOrigin),
		},
	}
}

// ServeWS authenticates before upgrading. A request without a valid
// credential gets a plain 401 and never reaches the registry.
func (h *RelayHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.Resolver.Resolve(r)
	if err != nil {
		reason := "missing"
		var f *auth.Failure
		if errors.As(err, &f) && !errors.Is(err, auth.ErrNoCredential) {
			reason = f.Kind.String()
		}
		h.Engine.Metrics().AuthRejected.WithLabelValues(reason).Inc()
		h.Log.Info("websocket handshake rejected", slog.String("reason", reason), slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.Log.Warn("websocket upgrade failed", logging.User(userID), logging.Err(err))
		return
	}
	h.Engine.Serve(r.Context(), h.Engine.NewConn(conn, userID))
}

func originChecker(allowOrigin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == allowOrigin {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
