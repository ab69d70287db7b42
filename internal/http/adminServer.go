package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"campuschat/internal/api"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(authService api.TokenIssuer, addr string) *AdminServer {
	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: newAdminRouter(authService),
		},
	}
}

func newAdminRouter(authService api.TokenIssuer) http.Handler {
	adminHandler := api.NewAdminHandler(authService)

	r := chi.NewRouter()
	r.Use(Metrics)
	r.Post("/admin/tokens", adminHandler.IssueTokenHandler)
	r.Post("/admin/tokens/revoke", adminHandler.RevokeTokenHandler)
	r.Handle("/metrics", promhttp.Handler())
	return r
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
