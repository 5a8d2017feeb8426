package manager

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/good-yellow-bee/firehunt/internal/sink"
)

// Service hosts one manager per configured category, plus the shared
// submission queue and its forwarder.
type Service struct {
	managers  []*Manager
	queue     *sink.Queue
	forwarder sink.Forwarder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a service over the given managers. forwarder may
// be nil when no sink is configured; submissions are then logged and
// dropped by the queue when it fills.
func NewService(managers []*Manager, queue *sink.Queue, forwarder sink.Forwarder) *Service {
	return &Service{managers: managers, queue: queue, forwarder: forwarder}
}

// Start launches the forwarder drain and every manager.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.forwarder != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sink.Drain(ctx, s.queue, s.forwarder)
		}()
	}

	for _, m := range s.managers {
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("starting manager %s: %w", m.Category(), err)
		}
	}
	log.Printf("hunting service started with %d managers", len(s.managers))
	return nil
}

// Stop shuts down managers first so no new submissions arrive, then
// the forwarder.
func (s *Service) Stop() {
	for _, m := range s.managers {
		m.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.forwarder != nil {
		s.forwarder.Close()
	}
	log.Printf("hunting service stopped")
}

// Managers returns the hosted managers.
func (s *Service) Managers() []*Manager { return s.managers }

// Manager returns the manager owning the given category.
func (s *Service) Manager(category string) (*Manager, bool) {
	for _, m := range s.managers {
		if m.Category() == category {
			return m, true
		}
	}
	return nil, false
}

// SignalReload asks every manager to reload its hunt set.
func (s *Service) SignalReload() {
	for _, m := range s.managers {
		m.SignalReload()
	}
}
