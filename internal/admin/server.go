// Package admin serves the operator control surface: a JSON API behind
// HTTP basic auth, plus the unauthenticated webhook, health and metrics
// endpoints.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgard/personabot/internal/broadcast"
	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/identity"
)

// Activator re-reads the active persona and swaps the live identity.
type Activator interface {
	Activate(ctx context.Context) error
}

// Launcher starts broadcast campaigns.
type Launcher interface {
	Launch(ctx context.Context, c broadcast.Campaign) (int64, error)
}

// Deps are the collaborators the control surface drives.
type Deps struct {
	Config     config.AdminConfig
	Chat       config.ChatConfig
	Store      database.Store
	Identity   identity.Source
	Activator  Activator
	Webhook    http.Handler
	Broadcasts Launcher
	Logger     *slog.Logger
}

// Server is the HTTP control surface.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	validate *validator.Validate
	router   *mux.Router

	// activations tracks asynchronous identity swaps started by requests.
	activations sync.WaitGroup
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:     deps,
		logger:   deps.Logger.With("component", "admin"),
		validate: validator.New(),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.deps.Webhook != nil {
		r.Handle("/webhook", s.deps.Webhook).Methods(http.MethodPost)
	}

	api := r.PathPrefix("/admin/api").Subrouter()
	api.Use(basicAuth(s.deps.Config.Username, s.deps.Config.Password, s.logger))

	api.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	api.HandleFunc("/users/{id:[0-9]+}/messages", s.userMessages).Methods(http.MethodGet)
	api.HandleFunc("/users/{id:[0-9]+}/credits", s.addCredits).Methods(http.MethodPost)

	api.HandleFunc("/personas", s.listPersonas).Methods(http.MethodGet)
	api.HandleFunc("/personas", s.createPersona).Methods(http.MethodPost)
	api.HandleFunc("/personas/deactivate", s.deactivatePersonas).Methods(http.MethodPost)
	api.HandleFunc("/personas/{id:[0-9]+}", s.updatePersona).Methods(http.MethodPut)
	api.HandleFunc("/personas/{id:[0-9]+}", s.deletePersona).Methods(http.MethodDelete)
	api.HandleFunc("/personas/{id:[0-9]+}/activate", s.activatePersona).Methods(http.MethodPost)

	api.HandleFunc("/media", s.listMedia).Methods(http.MethodGet)
	api.HandleFunc("/media", s.createMedia).Methods(http.MethodPost)
	api.HandleFunc("/media/{id:[0-9]+}", s.deleteMedia).Methods(http.MethodDelete)

	api.HandleFunc("/custom-requests", s.listCustomRequests).Methods(http.MethodGet)
	api.HandleFunc("/custom-requests/{id:[0-9]+}/quote", s.quoteCustomRequest).Methods(http.MethodPost)
	api.HandleFunc("/custom-requests/{id:[0-9]+}/reject", s.rejectCustomRequest).Methods(http.MethodPost)

	api.HandleFunc("/broadcasts", s.launchBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/broadcasts/{id:[0-9]+}", s.getBroadcast).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.deps.Config.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control surface listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.deps.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("Shutting down control surface")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	s.activations.Wait()
	return nil
}

// WaitActivations blocks until every identity swap started by a request has finished.
func (s *Server) WaitActivations() {
	s.activations.Wait()
}

// activateAsync swaps the identity in the background; the request only
// waits for the stored flag, not for the new session.
func (s *Server) activateAsync(reason string) {
	s.activations.Add(1)
	go func() {
		defer s.activations.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.deps.Activator.Activate(ctx); err != nil {
			s.logger.Error("Identity activation failed", "reason", reason, "error", err)
		}
	}()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	state := "offline"
	if s.deps.Identity != nil && s.deps.Identity.Current() != nil {
		state = "online"
	}
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "identity": state, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "identity": state})
}

// basicAuth rejects requests whose credentials do not match. Comparison is
// constant time on both fields.
func basicAuth(username, password string, log *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
			if !ok || !userOK || !passOK || username == "" {
				log.Warn("Unauthorized control surface request", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("WWW-Authenticate", `Basic realm="personabot"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
