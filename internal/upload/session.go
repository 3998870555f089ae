package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"uplink/internal/upload/ports"
)

// Status is the lifecycle state of one upload session.
//
// pending -> uploading -> {processing -> completed} | error | cancelled.
// completed is terminal-and-committed; error and cancelled are
// terminal-and-discarded.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Session tracks one file from submission until it is committed as an
// attachment or discarded. Identity fields never change after creation;
// RemoteFileID is write-once.
type Session struct {
	Key            string
	ConversationID string
	Filename       string
	MimeType       string
	SizeBytes      int64
	SubmittedAt    time.Time

	RemoteFileID string
	// RemoteStatus is the processing state the server reported with its
	// acknowledgement; empty until the transport finishes.
	RemoteStatus ports.ProcessingStatus
	Progress     int
	Status       Status
	ErrMessage   string
}

// NewSession creates a pending session for a submitted file.
func NewSession(conversationID string, file ports.FileUpload, submittedAt time.Time, batchIndex int) Session {
	return Session{
		Key:            SessionKey(conversationID, file.Filename, submittedAt, batchIndex),
		ConversationID: conversationID,
		Filename:       file.Filename,
		MimeType:       file.MimeType,
		SizeBytes:      file.SizeBytes,
		SubmittedAt:    submittedAt,
		Status:         StatusPending,
	}
}

// SessionKey derives the stable identifier for a file within a conversation.
// The same file submitted twice gets distinct keys via submission time and
// batch index.
func SessionKey(conversationID, filename string, submittedAt time.Time, batchIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d\x00%d",
		conversationID, filename, submittedAt.UnixNano(), batchIndex)))
	return "sess-" + hex.EncodeToString(sum[:12])
}

// Attachment converts a completed session into the attachment the reconciler
// appends to the conversation store. The server-reported processing state is
// preserved: a file the server is still indexing commits as "processing", not
// "completed".
func (s Session) Attachment() ports.Attachment {
	status := s.RemoteStatus
	if status == "" {
		status = ports.ProcessingCompleted
	}
	return ports.Attachment{
		FileID:           s.RemoteFileID,
		Filename:         s.Filename,
		MimeType:         s.MimeType,
		SizeBytes:        s.SizeBytes,
		ProcessingStatus: status,
	}
}
