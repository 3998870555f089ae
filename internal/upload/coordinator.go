package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"uplink/internal/upload/ports"
	"uplink/internal/utils"
	"uplink/internal/utils/id"
)

// CoordinatorConfig wires the coordinator's collaborators.
type CoordinatorConfig struct {
	Registry   *Registry
	Transport  ports.Transport
	Store      ports.ConversationStore
	Quota      *QuotaEnforcer
	Reconciler *Reconciler
	Deleter    *RemoteDeleter
	Observer   Observer
}

// Coordinator orchestrates upload batches for conversations: it validates
// quota, starts one concurrent upload per file, folds transport progress into
// the registry, commits completed uploads through the reconciler, and handles
// cancellation. Files within a batch are never serialized and one file's
// failure never aborts its siblings.
type Coordinator struct {
	registry   *Registry
	transport  ports.Transport
	store      ports.ConversationStore
	quota      *QuotaEnforcer
	reconciler *Reconciler
	deleter    *RemoteDeleter
	observer   Observer
	logger     *utils.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewCoordinator builds a coordinator. Registry, Transport, Store, Quota,
// Reconciler, and Deleter are required.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("coordinator requires a registry")
	case cfg.Transport == nil:
		return nil, errors.New("coordinator requires a transport")
	case cfg.Store == nil:
		return nil, errors.New("coordinator requires a conversation store")
	case cfg.Quota == nil:
		return nil, errors.New("coordinator requires a quota enforcer")
	case cfg.Reconciler == nil:
		return nil, errors.New("coordinator requires a reconciler")
	case cfg.Deleter == nil:
		return nil, errors.New("coordinator requires a remote deleter")
	}
	return &Coordinator{
		registry:   cfg.Registry,
		transport:  cfg.Transport,
		store:      cfg.Store,
		quota:      cfg.Quota,
		reconciler: cfg.Reconciler,
		deleter:    cfg.Deleter,
		observer:   cfg.Observer,
		logger:     utils.NewComponentLogger("UploadCoordinator"),
		cancels:    make(map[string]context.CancelFunc),
	}, nil
}

// SubmitBatch validates quota for the whole batch against one snapshot, then
// registers every session before any network call and starts each upload in
// its own goroutine. The batch is all-or-nothing at the quota gate: a quota
// or credential failure means zero uploads started. Submitting again while
// sessions are still live is allowed and additive.
func (c *Coordinator) SubmitBatch(ctx context.Context, conversationID string, files []ports.FileUpload) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if err := c.quota.Check(ctx, conversationID, len(files)); err != nil {
		return nil, err
	}
	cred, err := c.store.Credential(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("read credential for %s: %w", conversationID, err)
	}

	batchID := id.NewBatchID()
	submittedAt := time.Now()
	sessions := make([]Session, 0, len(files))
	keys := make([]string, 0, len(files))
	for i, file := range files {
		session := NewSession(conversationID, file, submittedAt, i)
		sessions = append(sessions, session)
		keys = append(keys, session.Key)
		c.registry.Upsert(conversationID, session)
	}

	// Uploads must outlive the submitting surface; only Cancel/Sweep abort
	// them. Values (deadlines aside) still flow from the caller.
	base := context.WithoutCancel(ctx)
	for i, session := range sessions {
		sessionCtx, cancel := context.WithCancel(base)
		c.mu.Lock()
		c.cancels[session.Key] = cancel
		c.mu.Unlock()
		c.wg.Add(1)
		go c.runSession(sessionCtx, session, files[i], cred)
	}
	c.logger.Info("Started batch %s of %d uploads for conversation %s", batchID, len(files), conversationID)
	return keys, nil
}

func (c *Coordinator) runSession(ctx context.Context, session Session, file ports.FileUpload, cred ports.Credential) {
	defer c.wg.Done()

	start := time.Now()
	att, err := c.transport.Upload(ctx, file, cred, func(p ports.Progress) {
		c.applyProgress(session.ConversationID, session.Key, p)
	})
	c.dropCancel(session.Key)
	if c.observer != nil {
		c.observer.RecordUpload(time.Since(start), file.SizeBytes, err)
	}

	switch {
	case err == nil:
		completed, live := c.registry.Update(session.ConversationID, session.Key, func(s *Session) {
			if s.RemoteFileID == "" {
				s.RemoteFileID = att.FileID
			}
			s.RemoteStatus = att.ProcessingStatus
			s.Progress = 100
			s.Status = StatusCompleted
		})
		if !live {
			// Cancel or sweep cleared the session while the transport was
			// still running. The server stored the file, so it is an orphan.
			c.deleteOrphanAsync(att.FileID)
			return
		}
		c.commit(ctx, completed)
	case errors.Is(err, context.Canceled):
		c.finishCancelled(session.ConversationID, session.Key)
	case errors.Is(err, ports.ErrFileDeletedMidUpload):
		// The file vanished server-side mid-upload. Not a user-facing error;
		// discard the session quietly.
		c.logger.Debug("File %s deleted server-side during upload, discarding session %s", session.Filename, session.Key)
		c.registry.Remove(session.ConversationID, session.Key)
	default:
		c.registry.Update(session.ConversationID, session.Key, func(s *Session) {
			s.Status = StatusError
			s.ErrMessage = err.Error()
		})
		c.logger.Error("Upload of %s failed for conversation %s: %v", session.Filename, session.ConversationID, err)
	}
}

func (c *Coordinator) commit(ctx context.Context, session Session) {
	_, err := c.reconciler.Commit(ctx, session)
	if errors.Is(err, ErrSessionDiscarded) {
		// A cancel or sweep won the race; it owns the orphan cleanup.
		c.logger.Debug("Commit of %s skipped, session already discarded", session.Key)
		return
	}
	if c.observer != nil {
		c.observer.RecordCommit(err)
	}
	if err != nil {
		c.registry.Update(session.ConversationID, session.Key, func(s *Session) {
			s.Status = StatusError
			s.ErrMessage = err.Error()
		})
		c.logger.Error("Commit of %s failed: %v", session.Key, err)
	}
}

// applyProgress folds one transport snapshot into the registry. Percent is
// clamped monotone non-decreasing, and RemoteFileID is write-once.
func (c *Coordinator) applyProgress(conversationID, sessionKey string, p ports.Progress) {
	c.registry.Update(conversationID, sessionKey, func(s *Session) {
		if s.Status.Terminal() {
			return
		}
		if p.RemoteFileID != "" && s.RemoteFileID == "" {
			s.RemoteFileID = p.RemoteFileID
		}
		if p.Percent > s.Progress {
			s.Progress = p.Percent
		}
		switch p.Status {
		case ports.ProcessingPending:
			s.Status = StatusProcessing
		default:
			if s.Status == StatusPending {
				s.Status = StatusUploading
			}
		}
	})
}

// Cancel aborts the session's in-flight request and discards the session. A
// cancel that races an already finished commit is an idempotent no-op. When
// the transport had already assigned a remote file id, a best-effort delete
// is issued; its failure is never surfaced since the user's intent (cancel)
// already succeeded.
func (c *Coordinator) Cancel(sessionKey string) error {
	session, ok := c.registry.Find(sessionKey)
	if !ok {
		return nil
	}
	if cancel := c.takeCancel(sessionKey); cancel != nil {
		cancel()
	}
	c.finishCancelled(session.ConversationID, sessionKey)
	return nil
}

// finishCancelled settles a cancellation under the conversation's commit
// lock, so it cannot interleave with a commit for the same session: whichever
// side removes the session first wins, and the loser backs off.
func (c *Coordinator) finishCancelled(conversationID, sessionKey string) {
	_ = c.reconciler.WithCommitLock(conversationID, func() error {
		session, live := c.registry.Find(sessionKey)
		if !live {
			return nil
		}
		c.registry.Remove(conversationID, sessionKey)
		if session.RemoteFileID != "" {
			if _, committed := c.registry.CommittedConversation(session.RemoteFileID); !committed {
				c.deleteOrphanAsync(session.RemoteFileID)
			}
		}
		if c.observer != nil {
			c.observer.RecordCancel()
		}
		c.logger.Debug("Session %s cancelled at %d%%", sessionKey, session.Progress)
		return nil
	})
}

// ClearError acknowledges a terminally errored session and removes it from
// the registry.
func (c *Coordinator) ClearError(sessionKey string) {
	session, ok := c.registry.Find(sessionKey)
	if !ok || session.Status != StatusError {
		return
	}
	c.registry.Remove(session.ConversationID, session.Key)
	if session.RemoteFileID != "" {
		c.deleteOrphanAsync(session.RemoteFileID)
	}
}

// ReportProcessingFailure records a server-side processing failure observed
// after the attachment was already committed. The attachment is kept and
// marked; removal stays a user decision.
func (c *Coordinator) ReportProcessingFailure(ctx context.Context, conversationID, fileID string, status ports.ProcessingStatus) error {
	if status != ports.ProcessingError && status != ports.ProcessingFailed {
		return fmt.Errorf("status %q is not a processing failure", status)
	}
	return c.reconciler.MarkProcessingFailed(ctx, conversationID, fileID, status)
}

func (c *Coordinator) deleteOrphanAsync(remoteFileID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.deleter.DeleteOrphan(context.Background(), remoteFileID)
	}()
}

func (c *Coordinator) dropCancel(sessionKey string) {
	c.mu.Lock()
	delete(c.cancels, sessionKey)
	c.mu.Unlock()
}

func (c *Coordinator) takeCancel(sessionKey string) context.CancelFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.cancels[sessionKey]
	if !ok {
		return nil
	}
	delete(c.cancels, sessionKey)
	return cancel
}

// Wait blocks until every started upload goroutine and pending orphan delete
// has finished. Intended for shutdown and tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
