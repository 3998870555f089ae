package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"uplink/internal/utils"
)

// DefaultSweepGrace is the debounce window between a teardown and the sweep
// it schedules. It exists to let a commit that is already in flight land
// first, instead of deleting a file the user meant to keep.
const DefaultSweepGrace = 300 * time.Millisecond

// SweeperConfig wires the sweeper's collaborators.
type SweeperConfig struct {
	Registry    *Registry
	Coordinator *Coordinator
	Reconciler  *Reconciler
	Deleter     *RemoteDeleter
	Observer    Observer
	Grace       time.Duration
}

// Sweeper garbage-collects uploads that were started but never committed:
// the upload surface was closed, the user navigated away mid-upload, or the
// conversation was deleted. It cancels live sessions and deletes the remote
// files they left behind, tolerating partial and duplicate deletion.
type Sweeper struct {
	registry    *Registry
	coordinator *Coordinator
	reconciler  *Reconciler
	deleter     *RemoteDeleter
	observer    Observer
	logger      *utils.Logger
	grace       time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	wg sync.WaitGroup
}

// NewSweeper builds a sweeper. Grace defaults to DefaultSweepGrace.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("sweeper requires a registry")
	case cfg.Coordinator == nil:
		return nil, errors.New("sweeper requires a coordinator")
	case cfg.Reconciler == nil:
		return nil, errors.New("sweeper requires a reconciler")
	case cfg.Deleter == nil:
		return nil, errors.New("sweeper requires a remote deleter")
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultSweepGrace
	}
	return &Sweeper{
		registry:    cfg.Registry,
		coordinator: cfg.Coordinator,
		reconciler:  cfg.Reconciler,
		deleter:     cfg.Deleter,
		observer:    cfg.Observer,
		logger:      utils.NewComponentLogger("CleanupSweeper"),
		grace:       grace,
		pending:     make(map[string]*time.Timer),
	}, nil
}

// Sweep schedules a sweep of the conversation after the grace period.
// Repeated calls within the window coalesce into one sweep.
func (s *Sweeper) Sweep(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if timer, ok := s.pending[conversationID]; ok {
		if timer.Stop() {
			s.wg.Done()
		}
	}
	s.wg.Add(1)
	s.pending[conversationID] = time.AfterFunc(s.grace, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.pending, conversationID)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		s.runSweep(conversationID)
	})
}

// SweepNow sweeps immediately, skipping the grace period. Used when the
// conversation itself is deleted and nothing can commit anymore.
func (s *Sweeper) SweepNow(conversationID string) {
	s.mu.Lock()
	if timer, ok := s.pending[conversationID]; ok {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.pending, conversationID)
	}
	s.mu.Unlock()
	s.runSweep(conversationID)
}

func (s *Sweeper) runSweep(conversationID string) {
	sessions := s.registry.LiveSessions(conversationID)
	candidates := make(map[string]struct{})
	for _, session := range sessions {
		if session.RemoteFileID != "" {
			candidates[session.RemoteFileID] = struct{}{}
		}
		_ = s.coordinator.Cancel(session.Key)
	}

	// Settle against commits that were in flight when the grace period ran
	// out: anything committed by now is no orphan.
	var orphans []string
	_ = s.reconciler.WithCommitLock(conversationID, func() error {
		for fileID := range candidates {
			if owner, ok := s.registry.CommittedConversation(fileID); ok && owner == conversationID {
				continue
			}
			orphans = append(orphans, fileID)
		}
		return nil
	})

	if s.observer != nil {
		s.observer.RecordSweep(len(orphans))
	}
	if len(sessions) == 0 && len(orphans) == 0 {
		return
	}
	s.logger.Info("Sweeping conversation %s: %d live sessions, %d orphaned files", conversationID, len(sessions), len(orphans))

	var g errgroup.Group
	for _, fileID := range orphans {
		g.Go(func() error {
			return s.deleter.DeleteOrphan(context.Background(), fileID)
		})
	}
	if err := g.Wait(); err != nil {
		// Best effort only: the user's action already succeeded from their
		// perspective. The deleter has logged specifics.
		s.logger.Warn("Sweep of %s left undeleted orphans: %v", conversationID, err)
	}
}

// Wait blocks until all scheduled sweeps have fired. Intended for tests and
// shutdown.
func (s *Sweeper) Wait() {
	s.wg.Wait()
	s.coordinator.Wait()
}

// Close stops all pending sweep timers. Sweeps already running are not
// interrupted.
func (s *Sweeper) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timer := range s.pending {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.pending, id)
	}
}
