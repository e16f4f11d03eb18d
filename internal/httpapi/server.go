package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hireloop/wabridge/internal/bus"
	"github.com/hireloop/wabridge/internal/manager"
	"github.com/hireloop/wabridge/internal/store"
	"go.uber.org/zap"
)

// Server is the HTTP control surface the CRM talks to. Every route is scoped
// by user id; data reads go straight to the store, commands go through the
// manager, and the per-user event stream relays the bus.
type Server struct {
	mgr    *manager.Manager
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	srv    *http.Server
}

func NewServer(addr string, mgr *manager.Manager, db *store.DB, b *bus.Bus, logger *zap.Logger) *Server {
	s := &Server{
		mgr:    mgr,
		db:     db,
		bus:    b,
		logger: logger,
	}
	// No WriteTimeout: the events route holds its response open.
	s.srv = &http.Server{
		Addr:        addr,
		Handler:     s.routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	u := r.PathPrefix("/users/{userID}").Subrouter()
	u.HandleFunc("/session/initialize", s.handleInitialize).Methods("POST")
	u.HandleFunc("/session/status", s.handleStatus).Methods("GET")
	u.HandleFunc("/session/logout", s.handleLogout).Methods("POST")
	u.HandleFunc("/events", s.handleEvents).Methods("GET")
	u.HandleFunc("/messages/text", s.handleSendText).Methods("POST")
	u.HandleFunc("/messages/file", s.handleSendFile).Methods("POST")
	u.HandleFunc("/chats", s.handleListChats).Methods("GET")
	u.HandleFunc("/chats/{jid}/messages", s.handleListMessages).Methods("GET")
	u.HandleFunc("/chats/{jid}/avatar", s.handleAvatar).Methods("GET")
	return r
}

// Start begins serving in the background; errors other than a clean close
// are reported through errc.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
