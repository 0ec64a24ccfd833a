// internal/api/service.go
package api

import (
	"context"
	"fmt"

	"github.com/cmatc13/slotwall/pkg/service"
)

// Service wraps the API server as a registry-managed service
type Service struct {
	server *Server
	status service.Status
}

// NewService creates a new API service
func NewService(server *Server) *Service {
	return &Service{
		server: server,
		status: service.StatusStopped,
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "api"
}

// Start launches the HTTP server
func (s *Service) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	go s.server.Start()

	s.status = service.StatusRunning
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Service) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	if s.server != nil {
		s.server.Shutdown(ctx)
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status
func (s *Service) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *Service) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *Service) Dependencies() []string {
	return []string{"reconciler"}
}
