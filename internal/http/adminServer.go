package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"fitchat/internal/api"
	"fitchat/internal/auth"
	"fitchat/internal/realtime"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(authService *auth.AuthService, db *realtime.Database, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(authService, db)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/tokens", adminHandler.IssueTokenHandler)
	mux.HandleFunc("DELETE /admin/tokens", adminHandler.RevokeTokenHandler)
	mux.HandleFunc("GET /admin/snapshot", adminHandler.SnapshotHandler)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
