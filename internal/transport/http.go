package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"uplink/internal/upload/ports"
	"uplink/internal/utils"
)

const (
	uploadPath       = "/api/files/upload"
	filePath         = "/api/files/"
	maxResponseBytes = 1 << 20
)

// uploadResponse is the file endpoint's acknowledgement payload.
type uploadResponse struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Status   string `json:"status"`
}

// HTTPTransport uploads files to the conversation's file endpoint via
// multipart POST and deletes them via DELETE, authenticating with the
// per-conversation API key. It remembers which credential uploaded each file
// so later deletes (cancel, sweep) reach the right endpoint.
type HTTPTransport struct {
	client          *http.Client
	logger          *utils.Logger
	defaultEndpoint string

	mu       sync.Mutex
	fileCred map[string]ports.Credential
}

// NewHTTPTransport builds a transport. defaultEndpoint is used when a
// conversation credential carries no endpoint of its own.
func NewHTTPTransport(defaultEndpoint string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPTransport{
		client:          &http.Client{Timeout: timeout},
		logger:          utils.NewComponentLogger("HTTPTransport"),
		defaultEndpoint: strings.TrimRight(defaultEndpoint, "/"),
		fileCred:        make(map[string]ports.Credential),
	}
}

func (t *HTTPTransport) endpoint(cred ports.Credential) string {
	if ep := strings.TrimRight(strings.TrimSpace(cred.Endpoint), "/"); ep != "" {
		return ep
	}
	return t.defaultEndpoint
}

func (t *HTTPTransport) Upload(ctx context.Context, file ports.FileUpload, cred ports.Credential, onProgress ports.ProgressFunc) (ports.Attachment, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", file.Filename)
	if err != nil {
		return ports.Attachment{}, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return ports.Attachment{}, fmt.Errorf("write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ports.Attachment{}, fmt.Errorf("close multipart body: %w", err)
	}

	reader := &progressReader{
		r:     bytes.NewReader(body.Bytes()),
		total: int64(body.Len()),
		report: func(percent int) {
			if onProgress != nil {
				onProgress(ports.Progress{
					Filename: file.Filename,
					Percent:  percent,
					Status:   ports.ProcessingUploading,
				})
			}
		},
	}

	url := t.endpoint(cred) + uploadPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return ports.Attachment{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", cred.APIKey)
	req.ContentLength = int64(body.Len())

	resp, err := t.client.Do(req)
	if err != nil {
		return ports.Attachment{}, fmt.Errorf("upload %s: %w", file.Filename, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ports.Attachment{}, fmt.Errorf("read upload response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusGone:
		// The server discarded the file while the upload was running.
		return ports.Attachment{}, fmt.Errorf("upload %s: %w", file.Filename, ports.ErrFileDeletedMidUpload)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return ports.Attachment{}, fmt.Errorf("upload %s: status %d: %s", file.Filename, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var ack uploadResponse
	if err := json.Unmarshal(payload, &ack); err != nil {
		return ports.Attachment{}, fmt.Errorf("decode upload response: %w", err)
	}
	if ack.FileID == "" {
		return ports.Attachment{}, fmt.Errorf("upload %s: server returned no file id", file.Filename)
	}

	t.mu.Lock()
	t.fileCred[ack.FileID] = cred
	t.mu.Unlock()

	status := ports.ProcessingCompleted
	if ack.Status != "" {
		status = ports.ProcessingStatus(ack.Status)
	}
	if onProgress != nil {
		onProgress(ports.Progress{
			Filename:     file.Filename,
			Percent:      100,
			Status:       status,
			RemoteFileID: ack.FileID,
		})
	}

	size := ack.Size
	if size == 0 {
		size = file.SizeBytes
	}
	return ports.Attachment{
		FileID:           ack.FileID,
		Filename:         file.Filename,
		MimeType:         file.MimeType,
		SizeBytes:        size,
		ProcessingStatus: status,
	}, nil
}

func (t *HTTPTransport) Delete(ctx context.Context, remoteFileID string) error {
	t.mu.Lock()
	cred, ok := t.fileCred[remoteFileID]
	t.mu.Unlock()
	if !ok {
		// No record means the file was uploaded by another process; the
		// default endpoint is the best we can do.
		cred = ports.Credential{}
	}

	url := t.endpoint(cred) + filePath + remoteFileID
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("X-API-Key", cred.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", remoteFileID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		t.forget(remoteFileID)
		return fmt.Errorf("%s: %w", remoteFileID, ports.ErrRemoteNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("delete %s: status %d", remoteFileID, resp.StatusCode)
	}
	t.forget(remoteFileID)
	return nil
}

func (t *HTTPTransport) forget(remoteFileID string) {
	t.mu.Lock()
	delete(t.fileCred, remoteFileID)
	t.mu.Unlock()
}

// progressReader reports upload progress as the HTTP client consumes the
// request body. Percent is clamped to 99 until the server acknowledges, so
// 100 always means "accepted", not just "bytes flushed".
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(percent int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.read += int64(n)
		percent := int(p.read * 100 / p.total)
		if percent > 99 {
			percent = 99
		}
		if percent > p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}

var _ ports.Transport = (*HTTPTransport)(nil)
