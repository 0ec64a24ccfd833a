// internal/reconciler/service.go
package reconciler

import (
	"context"
	"fmt"

	"github.com/cmatc13/slotwall/pkg/service"
)

// Service wraps the Reconciler as a registry-managed service
type Service struct {
	reconciler *Reconciler
	status     service.Status
	cancel     context.CancelFunc
}

// NewService creates a new reconciler service
func NewService(reconciler *Reconciler) *Service {
	return &Service{
		reconciler: reconciler,
		status:     service.StatusStopped,
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "reconciler"
}

// Start launches the sweep loop
func (s *Service) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.reconciler.Run(runCtx)

	s.status = service.StatusRunning
	return nil
}

// Stop cancels the sweep loop
func (s *Service) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	if s.cancel != nil {
		s.cancel()
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
	return []string{}
}
