package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/transport"
	"uplink/internal/upload/ports"
)

type fakeFileServer struct {
	mu        sync.Mutex
	files     map[string][]byte
	nextID    string
	ackStatus string
	goneOnce  bool
	apiKeys   []string
	deletes   []string
}

func newFakeFileServer() *fakeFileServer {
	return &fakeFileServer{files: make(map[string][]byte), nextID: "f1", ackStatus: "completed"}
}

func (s *fakeFileServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files/upload", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.apiKeys = append(s.apiKeys, r.Header.Get("X-API-Key"))

		if s.goneOnce {
			s.goneOnce = false
			w.WriteHeader(http.StatusGone)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = file.Close() }()

		id := s.nextID
		s.files[id] = nil
		_ = json.NewEncoder(w).Encode(map[string]any{
			"file_id":   id,
			"filename":  header.Filename,
			"mime_type": header.Header.Get("Content-Type"),
			"size":      header.Size,
			"status":    s.ackStatus,
		})
	})
	mux.HandleFunc("DELETE /api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := r.PathValue("id")
		s.deletes = append(s.deletes, id)
		if _, ok := s.files[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.files, id)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestHTTPUploadDeliversAckAndProgress(t *testing.T) {
	server := newFakeFileServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	tr := transport.NewHTTPTransport(ts.URL, 5*time.Second)
	var mu sync.Mutex
	var snapshots []ports.Progress
	att, err := tr.Upload(context.Background(), ports.FileUpload{
		Filename:  "notes.txt",
		MimeType:  "text/plain",
		SizeBytes: 11,
		Data:      []byte(strings.Repeat("x", 11)),
	}, ports.Credential{APIKey: "sk-live"}, func(p ports.Progress) {
		mu.Lock()
		snapshots = append(snapshots, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "f1", att.FileID)
	assert.Equal(t, "notes.txt", att.Filename)
	assert.Equal(t, ports.ProcessingCompleted, att.ProcessingStatus)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots)
	final := snapshots[len(snapshots)-1]
	assert.Equal(t, 100, final.Percent)
	assert.Equal(t, "f1", final.RemoteFileID)
	for _, p := range snapshots[:len(snapshots)-1] {
		assert.Empty(t, p.RemoteFileID, "the id arrives only with the server ack")
		assert.LessOrEqual(t, p.Percent, 99)
	}

	assert.Equal(t, []string{"sk-live"}, server.apiKeys)
}

func TestHTTPUploadPropagatesProcessingAck(t *testing.T) {
	server := newFakeFileServer()
	server.ackStatus = "processing"
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	tr := transport.NewHTTPTransport(ts.URL, 5*time.Second)
	att, err := tr.Upload(context.Background(), ports.FileUpload{Filename: "big.pdf", Data: []byte("pdf")},
		ports.Credential{APIKey: "sk-live"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ports.ProcessingPending, att.ProcessingStatus)
}

func TestHTTPUploadGoneMapsToFileDeletedMidUpload(t *testing.T) {
	server := newFakeFileServer()
	server.goneOnce = true
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	tr := transport.NewHTTPTransport(ts.URL, 5*time.Second)
	_, err := tr.Upload(context.Background(), ports.FileUpload{Filename: "a.txt", Data: []byte("hi")},
		ports.Credential{APIKey: "sk-live"}, nil)
	require.ErrorIs(t, err, ports.ErrFileDeletedMidUpload)
}

func TestHTTPDelete(t *testing.T) {
	server := newFakeFileServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	tr := transport.NewHTTPTransport(ts.URL, 5*time.Second)
	att, err := tr.Upload(context.Background(), ports.FileUpload{Filename: "a.txt", Data: []byte("hi")},
		ports.Credential{APIKey: "sk-live"}, nil)
	require.NoError(t, err)

	require.NoError(t, tr.Delete(context.Background(), att.FileID))
	assert.Equal(t, []string{att.FileID}, server.deletes)

	// Already gone: the transport reports the sentinel the cleanup paths
	// treat as success.
	err = tr.Delete(context.Background(), att.FileID)
	require.ErrorIs(t, err, ports.ErrRemoteNotFound)
}

func TestHTTPCredentialEndpointOverridesDefault(t *testing.T) {
	server := newFakeFileServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	// The default endpoint is unreachable; the credential's endpoint wins.
	tr := transport.NewHTTPTransport("http://127.0.0.1:1", 5*time.Second)
	att, err := tr.Upload(context.Background(), ports.FileUpload{Filename: "a.txt", Data: []byte("hi")},
		ports.Credential{APIKey: "sk-live", Endpoint: ts.URL}, nil)
	require.NoError(t, err)

	// Deletes for that file reuse the recorded credential endpoint.
	require.NoError(t, tr.Delete(context.Background(), att.FileID))
	assert.Equal(t, []string{att.FileID}, server.deletes)
}
