// Package server exposes the setup workflow and account management over
// HTTP, with live updates pushed over a websocket.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/push"
	"github.com/nhle/mailsetup/internal/setup"
	"github.com/nhle/mailsetup/internal/store"
)

// UserHeader carries the authenticated user's ID. Authentication itself
// happens in front of this server.
const UserHeader = "X-User-ID"

const maxBodyBytes = 64 << 10

// Accounts is the account persistence the API reads and edits.
type Accounts interface {
	GetAccountByID(ctx context.Context, userID, id string) (*model.Account, error)
	GetAccounts(ctx context.Context, filter store.AccountFilter) ([]model.Account, error)
	UpdateAccount(ctx context.Context, a *model.Account) error
}

// AccountRemover deletes an account together with its stored secret.
type AccountRemover interface {
	Delete(ctx context.Context, userID, id string) error
}

// Config holds everything New needs.
type Config struct {
	Addr string

	// Setup is the template for per-user workflows. UserID, Logger and the
	// callbacks are filled in by the server.
	Setup setup.Options

	Accounts Accounts
	Remover  AccountRemover
	Hub      *push.Hub

	EventsPerMinute int
	Burst           int

	Logger *zap.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg      Config
	sessions *sessions
	limiter  *userLimiter
	hub      *push.Hub
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	http   *http.Server
}

// New creates a server. Call Close (or Shutdown) to release it.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Hub == nil {
		cfg.Hub = push.NewHub(cfg.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		sessions: newSessions(cfg.Setup, cfg.Hub, cfg.Logger),
		limiter:  newUserLimiter(ctx, cfg.EventsPerMinute, cfg.Burst),
		hub:      cfg.Hub,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/setup", s.handleStartSetup)
	mux.HandleFunc("GET /api/setup", s.handleGetSetup)
	mux.HandleFunc("DELETE /api/setup", s.handleClearSetup)
	mux.HandleFunc("POST /api/setup/events", s.handleSetupEvent)

	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("PATCH /api/accounts/{id}", s.handleUpdateAccount)
	mux.HandleFunc("DELETE /api/accounts/{id}", s.handleDeleteAccount)

	mux.HandleFunc("GET /ws", s.handleWS)

	return s.logRequests(s.requireUser(mux))
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return s.ctx
		},
	}

	s.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests and abandons every open setup.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Close abandons every open setup and stops background work.
func (s *Server) Close() {
	s.cancel()
	s.sessions.closeAll()
}

type ctxKey struct{}

// userID returns the user set by requireUser.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			// Browsers cannot set headers on websocket upgrades.
			id = r.URL.Query().Get("user_id")
		}
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes websocket upgrades through to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
