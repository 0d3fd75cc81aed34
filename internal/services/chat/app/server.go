// Package server hosts the chat HTTP/WebSocket process: the push gateway,
// the send orchestration, and the request/response API over one shared
// SQLite store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/duochat/duochat/internal/platform/timeouts"
	"github.com/duochat/duochat/internal/services/chat/credentials"
	"github.com/duochat/duochat/internal/services/chat/presence"
	"github.com/duochat/duochat/internal/services/chat/storage/sqlite"
	"github.com/duochat/duochat/internal/services/chat/token"
)

// Config defines the inputs for the chat process.
type Config struct {
	HTTPAddr    string
	StoragePath string

	// TokenSecret enables session token issuance and enforcement when
	// non-empty. Empty leaves the push channel on username-only auth.
	TokenSecret string
	TokenTTL    time.Duration

	SeedUsers []credentials.SeedUser

	// Observer, when set, receives the outcome of every send attempt.
	Observer BroadcastObserver

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server wires the store, presence tracking, and transports together.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	storeTimeout    time.Duration

	httpServer *http.Server
	store      *sqlite.Store
	hub        *peerHub
	presence   *presence.Manager
	verifier   *credentials.Verifier
	tokens     *token.Issuer
	observer   BroadcastObserver
}

// NewServer opens the store, seeds the participants, and composes the
// HTTP handler.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.StoragePath) == "" {
		return nil, errors.New("storage path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(config.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open chat store: %w", err)
	}

	verifier := credentials.NewVerifier(store)
	if len(config.SeedUsers) > 0 {
		if err := verifier.Seed(ctx, config.SeedUsers); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed users: %w", err)
		}
	}

	hub := newPeerHub()
	srv := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		storeTimeout:    timeouts.StoreQuery,
		store:           store,
		hub:             hub,
		presence:        presence.NewManager(store, hub),
		verifier:        verifier,
		tokens:          token.NewIssuer(config.TokenSecret, config.TokenTTL),
		observer:        config.Observer,
	}

	srv.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return srv, nil
}

// Handler returns the chat routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("GET /messages/{username}", s.handleMessages)
	mux.HandleFunc("/clear-chat", s.handleClearChat)
	mux.HandleFunc("GET /user-status/{username}", s.handleUserStatus)

	wsHandler := websocket.Handler(s.handleWSConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
	return mux
}

// Run creates and serves a chat server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(ctx, config)
	if err != nil {
		return fmt.Errorf("init chat server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve chat: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("chat server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("chat server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("chat: close store: %v", err)
		}
	}
}
