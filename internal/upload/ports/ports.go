// Package ports defines the contracts between the upload subsystem and its
// collaborators: the network transport that moves bytes, and the conversation
// store that owns durable attachment lists.
package ports

import (
	"context"
	"errors"
)

// ProcessingStatus tracks server-side handling of an uploaded file.
type ProcessingStatus string

const (
	ProcessingUploading ProcessingStatus = "uploading"
	ProcessingPending   ProcessingStatus = "processing"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingError     ProcessingStatus = "error"
	ProcessingFailed    ProcessingStatus = "failed"
)

// Attachment is a file the server has accepted for a conversation. Once
// committed it is owned by the conversation store.
type Attachment struct {
	FileID           string           `json:"file_id"`
	Filename         string           `json:"filename"`
	MimeType         string           `json:"mime_type"`
	SizeBytes        int64            `json:"size_bytes"`
	ProcessingStatus ProcessingStatus `json:"processing_status,omitempty"`
}

// FileUpload describes one file entering the pipeline (picker, drop, or paste).
type FileUpload struct {
	Filename  string
	MimeType  string
	SizeBytes int64
	Data      []byte
}

// Progress is a snapshot delivered by the transport while an upload is in
// flight. RemoteFileID is empty until the server acknowledges the upload.
type Progress struct {
	Filename     string
	Percent      int
	Status       ProcessingStatus
	RemoteFileID string
}

// ProgressFunc receives progress snapshots. Snapshots for one upload arrive in
// non-decreasing Percent order; nothing is guaranteed across uploads.
type ProgressFunc func(Progress)

// Credential is the per-conversation API access needed to reach the file
// endpoint. A conversation configured with the application-wide placeholder
// key must never upload.
type Credential struct {
	APIKey   string
	Endpoint string
}

// Transport performs the actual network I/O for uploads and deletes.
type Transport interface {
	// Upload transfers the file and blocks until the server reports a terminal
	// result. onProgress may be nil. Cancellation is cooperative via ctx.
	Upload(ctx context.Context, file FileUpload, cred Credential, onProgress ProgressFunc) (Attachment, error)
	// Delete removes a remotely stored file. Implementations return
	// ErrRemoteNotFound when the file is already gone.
	Delete(ctx context.Context, remoteFileID string) error
}

// ConversationStore persists conversations and their attachment lists. The
// upload subsystem mutates attachment lists only through the reconciler.
type ConversationStore interface {
	Attachments(ctx context.Context, conversationID string) ([]Attachment, error)
	AppendAttachment(ctx context.Context, conversationID string, att Attachment) error
	RemoveAttachment(ctx context.Context, conversationID, remoteFileID string) error
	UpdateProcessingStatus(ctx context.Context, conversationID, remoteFileID string, status ProcessingStatus) error
	Credential(ctx context.Context, conversationID string) (Credential, error)
	ConversationIDs(ctx context.Context) ([]string, error)
}

// ErrFileDeletedMidUpload is the distinguished transport failure meaning the
// file was removed server-side while the upload was still running. Callers
// treat it as a silent cancellation, not a user-facing error.
var ErrFileDeletedMidUpload = errors.New("file deleted during upload")

// ErrRemoteNotFound reports that a remote file id does not exist. Cleanup
// paths treat it as success.
var ErrRemoteNotFound = errors.New("remote file not found")
