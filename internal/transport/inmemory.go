package transport

import (
	"context"
	"fmt"
	"sync"

	"uplink/internal/upload/ports"
	"uplink/internal/utils/id"
)

// Script controls how the in-memory transport plays back one upload,
// keyed by filename.
type Script struct {
	// Progress lists the percent snapshots delivered while uploading.
	// Defaults to 25/50/75/100.
	Progress []int
	// AssignIDAt is the percent at which snapshots start carrying the remote
	// file id. Negative means the id is only present in the final result.
	AssignIDAt int
	// Processing adds a server-side processing snapshot after the bytes land.
	Processing bool
	// Err makes the upload fail after FailAt percent has been reported.
	Err    error
	FailAt int
	// Hold, when non-nil, blocks the upload after all progress has been
	// delivered until the channel is closed (or ctx is cancelled).
	Hold <-chan struct{}
	// FileID overrides the generated remote id.
	FileID string
	// Status overrides the processing state in the final acknowledgement.
	// Defaults to completed.
	Status ports.ProcessingStatus
}

// InMemoryTransport mimics uploads by storing payloads in process memory.
// Tests script progress sequences, failures, and blocking to reproduce the
// races the coordinator and sweeper must survive.
type InMemoryTransport struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	deletes map[string]int
	scripts map[string]Script

	deleteErr map[string]error
}

// NewInMemoryTransport constructs an empty fake transport.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		blobs:     make(map[string][]byte),
		deletes:   make(map[string]int),
		scripts:   make(map[string]Script),
		deleteErr: make(map[string]error),
	}
}

// ScriptUpload registers playback for uploads of the named file.
func (t *InMemoryTransport) ScriptUpload(filename string, script Script) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[filename] = script
}

// FailDelete makes Delete of the given id return err.
func (t *InMemoryTransport) FailDelete(remoteFileID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleteErr[remoteFileID] = err
}

func (t *InMemoryTransport) script(filename string) Script {
	t.mu.Lock()
	defer t.mu.Unlock()
	script, ok := t.scripts[filename]
	if !ok {
		script = Script{}
	}
	if len(script.Progress) == 0 {
		script.Progress = []int{25, 50, 75, 100}
	}
	return script
}

func (t *InMemoryTransport) Upload(ctx context.Context, file ports.FileUpload, _ ports.Credential, onProgress ports.ProgressFunc) (ports.Attachment, error) {
	script := t.script(file.Filename)

	fileID := script.FileID
	if fileID == "" {
		fileID = id.NewFileID()
	}

	emit := func(percent int, status ports.ProcessingStatus) {
		if onProgress == nil {
			return
		}
		p := ports.Progress{Filename: file.Filename, Percent: percent, Status: status}
		if script.AssignIDAt >= 0 && percent >= script.AssignIDAt {
			p.RemoteFileID = fileID
		}
		onProgress(p)
	}

	for _, percent := range script.Progress {
		if err := ctx.Err(); err != nil {
			return ports.Attachment{}, err
		}
		if script.Err != nil && percent > script.FailAt {
			return ports.Attachment{}, script.Err
		}
		emit(percent, ports.ProcessingUploading)
	}
	if script.Err != nil {
		return ports.Attachment{}, script.Err
	}

	if script.Processing {
		emit(100, ports.ProcessingPending)
	}

	if script.Hold != nil {
		select {
		case <-ctx.Done():
			return ports.Attachment{}, ctx.Err()
		case <-script.Hold:
		}
	}
	if err := ctx.Err(); err != nil {
		return ports.Attachment{}, err
	}

	t.mu.Lock()
	t.blobs[fileID] = append([]byte(nil), file.Data...)
	t.mu.Unlock()

	ackStatus := script.Status
	if ackStatus == "" {
		ackStatus = ports.ProcessingCompleted
	}
	return ports.Attachment{
		FileID:           fileID,
		Filename:         file.Filename,
		MimeType:         file.MimeType,
		SizeBytes:        file.SizeBytes,
		ProcessingStatus: ackStatus,
	}, nil
}

func (t *InMemoryTransport) Delete(_ context.Context, remoteFileID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletes[remoteFileID]++
	if err, ok := t.deleteErr[remoteFileID]; ok {
		return err
	}
	if _, ok := t.blobs[remoteFileID]; !ok {
		return fmt.Errorf("%s: %w", remoteFileID, ports.ErrRemoteNotFound)
	}
	delete(t.blobs, remoteFileID)
	return nil
}

// Exists reports whether the fake server still holds the file.
func (t *InMemoryTransport) Exists(remoteFileID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.blobs[remoteFileID]
	return ok
}

// DeleteCalls returns how many times Delete was invoked for the id.
func (t *InMemoryTransport) DeleteCalls(remoteFileID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deletes[remoteFileID]
}

var _ ports.Transport = (*InMemoryTransport)(nil)
