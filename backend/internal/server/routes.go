package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Warpmeet/backend/internal/presence"
	"github.com/BioHazard786/Warpmeet/backend/internal/relay"
	"github.com/BioHazard786/Warpmeet/backend/internal/signaling"
)

// maxPeerIDLength mirrors the signaling endpoint's identifier bound.
const maxPeerIDLength = 128

// Deps are the components the router exposes.
type Deps struct {
	Store          *presence.Store
	Hub            *relay.Hub
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter registers every route of the signaling server.
func NewRouter(d Deps) *mux.Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthCheckHandler(d.Store)).Methods(http.MethodGet)
	r.Handle("/api/signaling", signaling.NewHandler(d.Store, d.Logger)).
		Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/peer", ServeWs(d.Hub, newUpgrader(d.AllowedOrigins), d.Logger)).
		Methods(http.MethodGet)

	return r
}

// healthCheckHandler reports liveness together with store counters.
func healthCheckHandler(store *presence.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Status string `json:"status"`
			presence.Stats
		}{Status: "ok", Stats: store.Stats()})
	}
}

// newUpgrader accepts every origin when none are configured (development)
// and otherwise only the listed ones.
func newUpgrader(allowed []string) *websocket.Upgrader {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		origins[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients such as the CLI
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := origins[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
	}
}

// ServeWs returns an http.HandlerFunc that upgrades /peer requests into relay
// clients. The room and participant ids come from the query string.
func ServeWs(hub *relay.Hub, upgrader *websocket.Upgrader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimSpace(r.URL.Query().Get("room"))
		peerID := strings.TrimSpace(r.URL.Query().Get("id"))
		if roomID == "" || peerID == "" {
			http.Error(w, "room and id are required", http.StatusBadRequest)
			return
		}
		if len(roomID) > maxPeerIDLength || len(peerID) > maxPeerIDLength {
			http.Error(w, "room or id too long", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "error", err)
			return
		}

		client := relay.NewClient(hub, conn, roomID, peerID)
		if !hub.Attach(client) {
			conn.Close()
			return
		}

		// Start the client's read and write pumps in separate goroutines
		// These methods will handle the client's lifecycle
		go client.WritePump()
		go client.ReadPump()
	}
}
