package uplink_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink"
)

// fileServer is a minimal stand-in for the remote file API.
type fileServer struct {
	mu    sync.Mutex
	next  int
	files map[string]struct{}
}

func (s *fileServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files/upload", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.next++
		id := fmt.Sprintf("f%d", s.next)
		s.files[id] = struct{}{}
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"file_id":  id,
			"filename": header.Filename,
			"size":     header.Size,
			"status":   "completed",
		})
	})
	mux.HandleFunc("DELETE /api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := r.PathValue("id")
		if _, ok := s.files[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.files, id)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestOpenUploadsAndPersists(t *testing.T) {
	server := &fileServer{files: make(map[string]struct{})}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	dir := t.TempDir()
	cfg, err := uplink.LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.Endpoint = ts.URL
	cfg.ConversationDir = dir
	cfg.UploadTimeout = 5 * time.Second

	sys, err := uplink.Open(cfg, nil)
	require.NoError(t, err)
	defer sys.Close()

	conv := uplink.NewConversation("Quarterly report", "sk-live", "")
	require.True(t, strings.HasPrefix(conv.ID, "conv-"))
	require.NoError(t, sys.Store.Put(conv))

	keys, err := sys.Service.Coordinator.SubmitBatch(context.Background(), conv.ID,
		[]uplink.FileUpload{{
			Filename:  "hello.txt",
			MimeType:  "text/plain",
			SizeBytes: 5,
			Data:      []byte("hello"),
		}})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	sys.Service.Coordinator.Wait()

	atts, err := sys.Store.Attachments(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "f1", atts[0].FileID)
	assert.Equal(t, "hello.txt", atts[0].Filename)

	// The record is on disk, not just in process state.
	reopened, err := uplink.Open(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	atts, err = reopened.Store.Attachments(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, atts, 1)
}

func TestOpenEnforcesPlaceholderCredential(t *testing.T) {
	server := &fileServer{files: make(map[string]struct{})}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	dir := t.TempDir()
	cfg, err := uplink.LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.Endpoint = ts.URL
	cfg.ConversationDir = dir

	sys, err := uplink.Open(cfg, nil)
	require.NoError(t, err)
	defer sys.Close()

	require.NoError(t, sys.Store.Put(uplink.Conversation{ID: "conv-1", APIKey: cfg.PlaceholderAPIKey}))

	_, err = sys.Service.Coordinator.SubmitBatch(context.Background(), "conv-1",
		[]uplink.FileUpload{{Filename: "a.txt", Data: []byte("x")}})
	require.ErrorIs(t, err, uplink.ErrAuthNotConfigured)
}
