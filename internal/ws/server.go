package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"fitchat/internal/realtime"

	"github.com/gorilla/websocket"
)

type tokenValidator interface {
	GetUsername(token string) (string, error)
}

// Server upgrades authenticated requests and serves the realtime protocol
// over them, one database session per websocket.
type Server struct {
	auth     tokenValidator
	db       *realtime.Database
	upgrader *websocket.Upgrader
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(auth tokenValidator, db *realtime.Database, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		auth:     auth,
		db:       db,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Clients authenticate with a bearer token, not cookies
			},
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token header.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("token")
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username, err := s.auth.GetUsername(BearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if s.ctx.Err() != nil {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("error upgrading to websocket", "error", err)
		return
	}

	// Close is only called once the HTTP server stopped accepting requests.
	s.wg.Add(1)
	defer s.wg.Done()

	conn := NewConnection(s.db.Connect(""), ws, username, s.logger)
	s.logger.Info("realtime connection opened", "username", username, "remote", r.RemoteAddr)
	if err := conn.Handle(s.ctx); err != nil {
		s.logger.Warn("realtime connection failed", "username", username, "error", err)
	}
}

// Close ends every open connection and waits for their sessions to close.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}
