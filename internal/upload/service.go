package upload

import (
	"time"

	"uplink/internal/upload/ports"
)

// ServiceConfig assembles one upload subsystem instance.
type ServiceConfig struct {
	Store     ports.ConversationStore
	Transport ports.Transport
	Limits    Limits
	// PlaceholderAPIKey is the application default credential uploads must
	// never run under.
	PlaceholderAPIKey string
	SweepGrace        time.Duration
	Observer          Observer
}

// Service bundles the registry, coordinator, and sweeper behind one
// constructor so hosts wire a single value. The registry inside is the
// process-wide one: build one Service per process, not per UI surface.
type Service struct {
	Registry    *Registry
	Coordinator *Coordinator
	Sweeper     *Sweeper
	Reconciler  *Reconciler
}

// NewService builds the full subsystem over the given store and transport.
func NewService(cfg ServiceConfig) (*Service, error) {
	registry := NewRegistry()
	reconciler := NewReconciler(cfg.Store, registry)
	quota := NewQuotaEnforcer(cfg.Store, cfg.Limits, cfg.PlaceholderAPIKey)

	deleter, err := NewRemoteDeleter(cfg.Transport, WithDeleteObserver(cfg.Observer))
	if err != nil {
		return nil, err
	}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Registry:   registry,
		Transport:  cfg.Transport,
		Store:      cfg.Store,
		Quota:      quota,
		Reconciler: reconciler,
		Deleter:    deleter,
		Observer:   cfg.Observer,
	})
	if err != nil {
		return nil, err
	}
	sweeper, err := NewSweeper(SweeperConfig{
		Registry:    registry,
		Coordinator: coordinator,
		Reconciler:  reconciler,
		Deleter:     deleter,
		Observer:    cfg.Observer,
		Grace:       cfg.SweepGrace,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		Registry:    registry,
		Coordinator: coordinator,
		Sweeper:     sweeper,
		Reconciler:  reconciler,
	}, nil
}

// Close stops pending sweeps and waits for in-flight work to settle.
func (s *Service) Close() {
	s.Sweeper.Close()
	s.Coordinator.Wait()
}
