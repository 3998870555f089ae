package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"uplink/internal/upload/ports"
	"uplink/internal/utils"
)

// ErrSessionDiscarded reports that a commit lost the race against a cancel or
// sweep that already cleared the session. The caller must not treat it as an
// upload failure.
var ErrSessionDiscarded = errors.New("session discarded before commit")

// Reconciler moves completed uploads from transient registry tracking into
// the conversation store's durable attachment list. Commits are serialized
// per conversation, never globally, and are idempotent on the remote file id
// so duplicate completion callbacks cannot produce duplicate attachments.
type Reconciler struct {
	store    ports.ConversationStore
	registry *Registry
	logger   *utils.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReconciler builds a reconciler over the store and registry.
func NewReconciler(store ports.ConversationStore, registry *Registry) *Reconciler {
	return &Reconciler{
		store:    store,
		registry: registry,
		logger:   utils.NewComponentLogger("AttachmentReconciler"),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *Reconciler) lockFor(conversationID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[conversationID] = l
	}
	return l
}

// WithCommitLock runs fn while holding the conversation's commit lock. The
// sweeper uses this so its orphan computation waits for any commit already in
// flight to settle.
func (r *Reconciler) WithCommitLock(conversationID string, fn func() error) error {
	l := r.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// Commit appends the session's attachment to the conversation store, mirrors
// it into the registry, and clears the live session. Committing a file id the
// conversation already holds is a no-op returning the existing attachment.
func (r *Reconciler) Commit(ctx context.Context, session Session) (ports.Attachment, error) {
	if session.RemoteFileID == "" {
		return ports.Attachment{}, fmt.Errorf("session %s has no remote file id", session.Key)
	}

	l := r.lockFor(session.ConversationID)
	l.Lock()
	defer l.Unlock()

	if _, live := r.registry.Find(session.Key); !live {
		// A cancel or sweep settled this session while we waited for the lock.
		if owner, ok := r.registry.CommittedConversation(session.RemoteFileID); ok && owner == session.ConversationID {
			return sessionAttachmentIn(r.registry.CommittedAttachments(owner), session.RemoteFileID), nil
		}
		return ports.Attachment{}, ErrSessionDiscarded
	}

	existing, err := r.store.Attachments(ctx, session.ConversationID)
	if err != nil {
		return ports.Attachment{}, fmt.Errorf("read attachments for %s: %w", session.ConversationID, err)
	}
	for _, att := range existing {
		if att.FileID == session.RemoteFileID {
			// Duplicate completion callback raced a second commit.
			r.registry.Remove(session.ConversationID, session.Key)
			r.logger.Debug("Commit of %s is a no-op, %s already attached", session.Key, session.RemoteFileID)
			return att, nil
		}
	}

	att := session.Attachment()
	if err := r.registry.AppendCommitted(session.ConversationID, att); err != nil {
		return ports.Attachment{}, err
	}
	if err := r.store.AppendAttachment(ctx, session.ConversationID, att); err != nil {
		r.registry.RemoveCommitted(session.ConversationID, att.FileID)
		return ports.Attachment{}, fmt.Errorf("append attachment %s: %w", att.FileID, err)
	}
	r.registry.Remove(session.ConversationID, session.Key)
	r.logger.Info("Committed %s (%s) to conversation %s", att.FileID, att.Filename, session.ConversationID)
	return att, nil
}

func sessionAttachmentIn(atts []ports.Attachment, fileID string) ports.Attachment {
	for _, att := range atts {
		if att.FileID == fileID {
			return att
		}
	}
	return ports.Attachment{FileID: fileID}
}

// MarkProcessingFailed records a late server-side processing failure on an
// already committed attachment. The attachment stays in the list for the user
// to remove; it is never auto-removed.
func (r *Reconciler) MarkProcessingFailed(ctx context.Context, conversationID, fileID string, status ports.ProcessingStatus) error {
	l := r.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	if err := r.store.UpdateProcessingStatus(ctx, conversationID, fileID, status); err != nil {
		return fmt.Errorf("update processing status for %s: %w", fileID, err)
	}
	r.registry.UpdateCommittedStatus(conversationID, fileID, status)
	r.logger.Warn("Attachment %s in conversation %s reported processing status %s", fileID, conversationID, status)
	return nil
}
