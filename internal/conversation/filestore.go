package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"uplink/internal/upload/ports"
	"uplink/internal/utils"
)

// FileStore persists one JSON document per conversation under baseDir. Writes
// go through a temp file and rename so a crashed process never leaves a
// half-written conversation behind.
type FileStore struct {
	baseDir string
	logger  *utils.Logger
	mu      sync.Mutex
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(baseDir string) (*FileStore, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		logger:  utils.NewComponentLogger("ConversationFileStore"),
	}, nil
}

func (s *FileStore) path(conversationID string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.json", conversationID))
}

// Put creates or replaces a conversation record on disk.
func (s *FileStore) Put(conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	conv.UpdatedAt = time.Now()
	return s.writeLocked(&conv)
}

// Delete removes the conversation's file. Deleting an unknown id is a no-op.
func (s *FileStore) Delete(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(conversationID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return nil
}

// Get loads one conversation.
func (s *FileStore) Get(conversationID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(conversationID)
}

func (s *FileStore) readLocked(conversationID string) (Conversation, error) {
	data, err := os.ReadFile(s.path(conversationID))
	if err != nil {
		return Conversation{}, fmt.Errorf("%s: %w", conversationID, ErrConversationNotFound)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		s.logger.Error("Failed to decode conversation file %s: %v", conversationID, err)
		return Conversation{}, fmt.Errorf("decode conversation %s: %w", conversationID, err)
	}
	return conv, nil
}

func (s *FileStore) writeLocked(conv *Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	path := s.path(conv.ID)
	tmp, err := os.CreateTemp(s.baseDir, conv.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp conversation file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write conversation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close conversation file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize conversation file: %w", err)
	}
	return nil
}

func (s *FileStore) mutate(conversationID string, fn func(*Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.readLocked(conversationID)
	if err != nil {
		return err
	}
	if err := fn(&conv); err != nil {
		return err
	}
	conv.UpdatedAt = time.Now()
	return s.writeLocked(&conv)
}

func (s *FileStore) Attachments(_ context.Context, conversationID string) ([]ports.Attachment, error) {
	conv, err := s.Get(conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Attachments, nil
}

func (s *FileStore) AppendAttachment(_ context.Context, conversationID string, att ports.Attachment) error {
	return s.mutate(conversationID, func(conv *Conversation) error {
		conv.Attachments = append(conv.Attachments, att)
		return nil
	})
}

func (s *FileStore) RemoveAttachment(_ context.Context, conversationID, remoteFileID string) error {
	return s.mutate(conversationID, func(conv *Conversation) error {
		for i, att := range conv.Attachments {
			if att.FileID == remoteFileID {
				conv.Attachments = append(conv.Attachments[:i], conv.Attachments[i+1:]...)
				break
			}
		}
		return nil
	})
}

func (s *FileStore) UpdateProcessingStatus(_ context.Context, conversationID, remoteFileID string, status ports.ProcessingStatus) error {
	return s.mutate(conversationID, func(conv *Conversation) error {
		for i := range conv.Attachments {
			if conv.Attachments[i].FileID == remoteFileID {
				conv.Attachments[i].ProcessingStatus = status
				return nil
			}
		}
		return fmt.Errorf("attachment %s not found in %s", remoteFileID, conversationID)
	})
}

func (s *FileStore) Credential(_ context.Context, conversationID string) (ports.Credential, error) {
	conv, err := s.Get(conversationID)
	if err != nil {
		return ports.Credential{}, err
	}
	return ports.Credential{APIKey: conv.APIKey, Endpoint: conv.Endpoint}, nil
}

func (s *FileStore) ConversationIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

var _ ports.ConversationStore = (*FileStore)(nil)
