package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"fitchat/internal/api"
	"fitchat/internal/auth"
	"fitchat/internal/ws"
)

type APIServer struct {
	server   *http.Server
	realtime *ws.Server
	wg       sync.WaitGroup
}

func NewAPIServer(authService *auth.AuthService, realtime *ws.Server, addr string) *APIServer {
	apiHandlers := api.New(authService)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", apiHandlers.HealthHandler)
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/realtime", realtime.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		realtime: realtime,
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes the open realtime
// connections, which are not tracked by http.Server once upgraded.
func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	err := s.server.Shutdown(ctx)
	s.realtime.Close()
	return err
}
