package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"uplink/internal/upload/ports"
)

// MemoryStore is a ConversationStore held in process memory. It backs tests
// and hosts that persist conversations elsewhere.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*Conversation)}
}

// Put creates or replaces a conversation record.
func (s *MemoryStore) Put(conv Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	conv.UpdatedAt = time.Now()
	c := conv
	s.conversations[conv.ID] = &c
}

// Delete removes a conversation record.
func (s *MemoryStore) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
}

func (s *MemoryStore) Attachments(_ context.Context, conversationID string) ([]ports.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", conversationID, ErrConversationNotFound)
	}
	out := make([]ports.Attachment, len(conv.Attachments))
	copy(out, conv.Attachments)
	return out, nil
}

func (s *MemoryStore) AppendAttachment(_ context.Context, conversationID string, att ports.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("%s: %w", conversationID, ErrConversationNotFound)
	}
	conv.Attachments = append(conv.Attachments, att)
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RemoveAttachment(_ context.Context, conversationID, remoteFileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("%s: %w", conversationID, ErrConversationNotFound)
	}
	for i, att := range conv.Attachments {
		if att.FileID == remoteFileID {
			conv.Attachments = append(conv.Attachments[:i], conv.Attachments[i+1:]...)
			conv.UpdatedAt = time.Now()
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) UpdateProcessingStatus(_ context.Context, conversationID, remoteFileID string, status ports.ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("%s: %w", conversationID, ErrConversationNotFound)
	}
	for i := range conv.Attachments {
		if conv.Attachments[i].FileID == remoteFileID {
			conv.Attachments[i].ProcessingStatus = status
			conv.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("attachment %s not found in %s", remoteFileID, conversationID)
}

func (s *MemoryStore) Credential(_ context.Context, conversationID string) (ports.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ports.Credential{}, fmt.Errorf("%s: %w", conversationID, ErrConversationNotFound)
	}
	return ports.Credential{APIKey: conv.APIKey, Endpoint: conv.Endpoint}, nil
}

func (s *MemoryStore) ConversationIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ ports.ConversationStore = (*MemoryStore)(nil)
