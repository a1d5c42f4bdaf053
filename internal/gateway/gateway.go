// Package gateway serves the realtime websocket endpoint and the REST message routes.
// Websocket clients speak the Phoenix-style frames of package wire; every join is authorized
// against the caller's token, workspace membership and the OPA channel policy before the
// session is attached to the hub.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"bizlinkone/backend/internal/platform/rbac"
	"bizlinkone/backend/internal/policy/engine"
	"bizlinkone/backend/internal/realtime/hub"
	"bizlinkone/backend/internal/server/interceptors"
	"bizlinkone/backend/internal/telemetry"

	msgrepo "bizlinkone/backend/internal/message/repository"
	wsrepo "bizlinkone/backend/internal/workspace/repository"
)

const (
	// WebsocketPath is where clients open their realtime connection.
	WebsocketPath = "/realtime/v1/websocket"
	// RestPrefix prefixes every REST route.
	RestPrefix = "/rest/v1"

	defaultReadTimeout = 60 * time.Second
	sessionBuffer      = 256
)

// Deps are the collaborators of the gateway. Emitter may be nil.
type Deps struct {
	Hub        *hub.Hub
	Tokens     interceptors.TokenValidator
	Members    rbac.MemberGetter
	Workspaces wsrepo.Repository
	Messages   msgrepo.Repository
	Policy     engine.Evaluator
	Emitter    telemetry.EventEmitter
}

// Option configures a Server.
type Option func(*Server)

// WithReadTimeout closes sessions that send nothing (not even a heartbeat) for d.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithCheckOrigin replaces the upgrader origin check. The default accepts any origin.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// Server is the HTTP handler for the gateway.
type Server struct {
	deps        Deps
	upgrader    websocket.Upgrader
	readTimeout time.Duration
	router      *mux.Router
}

// New builds the gateway and its routes.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:        deps,
		readTimeout: defaultReadTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc(WebsocketPath, s.serveWebsocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	rest := r.PathPrefix(RestPrefix).Subrouter()
	rest.Use(interceptors.AuthHTTP(deps.Tokens))
	rest.HandleFunc("/workspaces/{workspace}/channels", s.listChannels).Methods(http.MethodGet)
	rest.HandleFunc("/workspaces/{workspace}/channels", s.createChannel).Methods(http.MethodPost)
	rest.HandleFunc("/workspaces/{workspace}/channels/{channel}/messages", s.listMessages).Methods(http.MethodGet)
	rest.HandleFunc("/workspaces/{workspace}/channels/{channel}/messages", s.createMessage).Methods(http.MethodPost)
	rest.HandleFunc("/messages/{id}", s.updateMessage).Methods(http.MethodPatch)
	rest.HandleFunc("/messages/{id}", s.deleteMessage).Methods(http.MethodDelete)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
