package upload

import (
	"fmt"
	"sync"

	"uplink/internal/upload/ports"
)

// EventKind classifies a registry mutation for observers.
type EventKind string

const (
	EventUpsert EventKind = "upsert"
	EventRemove EventKind = "remove"
	EventCommit EventKind = "commit"
)

// Event describes one mutation affecting a conversation.
type Event struct {
	Kind           EventKind
	ConversationID string
	SessionKey     string
	FileID         string
}

// ObserverFunc is invoked synchronously after every mutation affecting the
// conversation it was registered for.
type ObserverFunc func(Event)

type conversationEntry struct {
	live      map[string]Session
	committed []ports.Attachment
}

// Registry is the process-wide, conversation-keyed store of live upload
// sessions and the mirror of committed attachments. It outlives any UI
// surface, so switching conversations and back never loses in-flight
// progress. All mutation goes through Upsert/Remove/AppendCommitted;
// the registry never drops a session on its own.
type Registry struct {
	mu            sync.RWMutex
	conversations map[string]*conversationEntry
	committedBy   map[string]string // fileID -> conversationID
	observers     map[string]map[int]ObserverFunc
	nextObserver  int
}

// NewRegistry constructs an empty registry. Model it as an injected
// singleton: one per process, shared by every upload surface.
func NewRegistry() *Registry {
	return &Registry{
		conversations: make(map[string]*conversationEntry),
		committedBy:   make(map[string]string),
		observers:     make(map[string]map[int]ObserverFunc),
	}
}

func (r *Registry) entryLocked(conversationID string) *conversationEntry {
	entry, ok := r.conversations[conversationID]
	if !ok {
		entry = &conversationEntry{live: make(map[string]Session)}
		r.conversations[conversationID] = entry
	}
	return entry
}

// Upsert stores or replaces a live session and notifies observers.
func (r *Registry) Upsert(conversationID string, session Session) {
	r.mu.Lock()
	entry := r.entryLocked(conversationID)
	entry.live[session.Key] = session
	observers := r.observersLocked(conversationID)
	r.mu.Unlock()

	r.notify(observers, Event{
		Kind:           EventUpsert,
		ConversationID: conversationID,
		SessionKey:     session.Key,
		FileID:         session.RemoteFileID,
	})
}

// Update mutates a live session in place, if it still exists, and notifies
// observers. The mutation runs under the registry lock, so a session removed
// by a concurrent cancel or sweep can never be resurrected by a late progress
// callback.
func (r *Registry) Update(conversationID, sessionKey string, fn func(*Session)) (Session, bool) {
	r.mu.Lock()
	entry, ok := r.conversations[conversationID]
	if !ok {
		r.mu.Unlock()
		return Session{}, false
	}
	session, ok := entry.live[sessionKey]
	if !ok {
		r.mu.Unlock()
		return Session{}, false
	}
	fn(&session)
	entry.live[sessionKey] = session
	observers := r.observersLocked(conversationID)
	r.mu.Unlock()

	r.notify(observers, Event{
		Kind:           EventUpsert,
		ConversationID: conversationID,
		SessionKey:     sessionKey,
		FileID:         session.RemoteFileID,
	})
	return session, true
}

// Remove deletes a live session and notifies observers. Removing an unknown
// key is a no-op.
func (r *Registry) Remove(conversationID, sessionKey string) {
	r.mu.Lock()
	entry, ok := r.conversations[conversationID]
	if ok {
		if _, exists := entry.live[sessionKey]; !exists {
			ok = false
		} else {
			delete(entry.live, sessionKey)
		}
	}
	observers := r.observersLocked(conversationID)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.notify(observers, Event{
		Kind:           EventRemove,
		ConversationID: conversationID,
		SessionKey:     sessionKey,
	})
}

// LiveSessions returns a snapshot of the conversation's in-flight (or
// terminally errored but uncleared) sessions. Callers own the copy.
func (r *Registry) LiveSessions(conversationID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]Session, 0, len(entry.live))
	for _, s := range entry.live {
		out = append(out, s)
	}
	return out
}

// Find locates a live session by key across all conversations.
func (r *Registry) Find(sessionKey string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.conversations {
		if s, ok := entry.live[sessionKey]; ok {
			return s, true
		}
	}
	return Session{}, false
}

// AppendCommitted records an attachment as committed to the conversation and
// notifies observers. A file id committed to one conversation must never be
// committed to another.
func (r *Registry) AppendCommitted(conversationID string, att ports.Attachment) error {
	r.mu.Lock()
	if owner, ok := r.committedBy[att.FileID]; ok {
		r.mu.Unlock()
		if owner == conversationID {
			return nil
		}
		return fmt.Errorf("file %s already committed to conversation %s", att.FileID, owner)
	}
	entry := r.entryLocked(conversationID)
	entry.committed = append(entry.committed, att)
	r.committedBy[att.FileID] = conversationID
	observers := r.observersLocked(conversationID)
	r.mu.Unlock()

	r.notify(observers, Event{
		Kind:           EventCommit,
		ConversationID: conversationID,
		FileID:         att.FileID,
	})
	return nil
}

// RemoveCommitted drops a file from the committed mirror, e.g. after the user
// removes the attachment or the conversation is deleted.
func (r *Registry) RemoveCommitted(conversationID, fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conversations[conversationID]
	if !ok {
		return
	}
	for i, att := range entry.committed {
		if att.FileID == fileID {
			entry.committed = append(entry.committed[:i], entry.committed[i+1:]...)
			break
		}
	}
	if r.committedBy[fileID] == conversationID {
		delete(r.committedBy, fileID)
	}
}

// UpdateCommittedStatus rewrites the processing status of a committed
// attachment in the mirror, keeping it aligned with the conversation store.
func (r *Registry) UpdateCommittedStatus(conversationID, fileID string, status ports.ProcessingStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conversations[conversationID]
	if !ok {
		return
	}
	for i := range entry.committed {
		if entry.committed[i].FileID == fileID {
			entry.committed[i].ProcessingStatus = status
			return
		}
	}
}

// CommittedAttachments returns the conversation's committed attachments in
// commit order. Callers own the copy.
func (r *Registry) CommittedAttachments(conversationID string) []ports.Attachment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]ports.Attachment, len(entry.committed))
	copy(out, entry.committed)
	return out
}

// CommittedConversation reports which conversation a file id was committed to.
func (r *Registry) CommittedConversation(fileID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.committedBy[fileID]
	return owner, ok
}

// Observe registers a callback for every mutation affecting the conversation.
// The returned func unregisters it.
func (r *Registry) Observe(conversationID string, fn ObserverFunc) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.observers[conversationID] == nil {
		r.observers[conversationID] = make(map[int]ObserverFunc)
	}
	idx := r.nextObserver
	r.nextObserver++
	r.observers[conversationID][idx] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers[conversationID], idx)
	}
}

func (r *Registry) observersLocked(conversationID string) []ObserverFunc {
	set := r.observers[conversationID]
	if len(set) == 0 {
		return nil
	}
	out := make([]ObserverFunc, 0, len(set))
	for _, fn := range set {
		out = append(out, fn)
	}
	return out
}

// notify runs outside the registry lock so observers may read snapshots
// without deadlocking, but still within the mutating call.
func (r *Registry) notify(observers []ObserverFunc, event Event) {
	for _, fn := range observers {
		fn(event)
	}
}
