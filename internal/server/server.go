// Package server provides the HTTP API, the embedded chat page and the
// /ws/avatar state stream.
package server

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/normanking/talkingavatar/internal/bridge"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/rs/zerolog"
)

//go:embed static/*
var staticFiles embed.FS

// Deps are the bridges the server exposes. Logs may be nil.
type Deps struct {
	Chat     *bridge.ChatBridge
	Avatar   *bridge.AvatarBridge
	Settings *bridge.SettingsBridge
	Speech   bridge.Speaker
	Logs     *bridge.LogBridge
}

// Server handles the browser UI
type Server struct {
	cfg  config.ServerConfig
	deps Deps
	bus  *bus.EventBus
	log  zerolog.Logger

	router   *mux.Router
	upgrader websocket.Upgrader
	hub      *hub
	detach   func()
}

// New creates the server and subscribes to the events pushed to browsers.
func New(cfg config.ServerConfig, deps Deps, eventBus *bus.EventBus, log zerolog.Logger) *Server {
	if cfg.StateHz <= 0 {
		cfg.StateHz = 20
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		bus:  eventBus,
		log:  log.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHost,
		},
		hub: newHub(),
	}
	s.router = s.routes()
	s.forwardEvents()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleClearMessages).Methods(http.MethodDelete)
	api.HandleFunc("/speak", s.handleSpeak).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/voices", s.handleVoices).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleSaveSettings).Methods(http.MethodPut)
	api.HandleFunc("/mode", s.handleMode).Methods(http.MethodPost)
	api.HandleFunc("/autoplay", s.handleAutoPlay).Methods(http.MethodPost)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/avatars", s.handleListAvatars).Methods(http.MethodGet)
	api.HandleFunc("/avatars", s.handleCreateAvatar).Methods(http.MethodPost)
	api.HandleFunc("/avatars/{id}", s.handleRenameAvatar).Methods(http.MethodPatch)
	api.HandleFunc("/avatars/{id}", s.handleDeleteAvatar).Methods(http.MethodDelete)
	api.HandleFunc("/avatars/{id}/select", s.handleSelectAvatar).Methods(http.MethodPost)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleClientLog).Methods(http.MethodPost)

	r.HandleFunc("/ws/avatar", s.handleAvatarSocket)

	if s.cfg.ModelDir != "" {
		r.PathPrefix(bridge.ModelPrefix).Handler(
			http.StripPrefix(bridge.ModelPrefix, http.FileServer(http.Dir(s.cfg.ModelDir))))
	}

	static, _ := fs.Sub(staticFiles, "static")
	r.PathPrefix("/").Handler(http.FileServer(http.FS(static)))

	r.Use(s.logRequests)
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("Server listening")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.detach != nil {
		s.detach()
	}
	s.hub.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("Server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("Request")
	})
}

// sameHost accepts websocket upgrades from pages served by this host.
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := parseOrigin(origin)
	if err != nil {
		return false
	}
	return u == r.Host
}
