// Package conversation provides ConversationStore implementations backing
// the upload subsystem: an in-memory store and a JSON-file-per-conversation
// store holding each conversation's attachment list and API credential.
package conversation

import (
	"errors"
	"time"

	"uplink/internal/upload/ports"
	"uplink/internal/utils/id"
)

// ErrConversationNotFound is returned when a conversation id is unknown.
var ErrConversationNotFound = errors.New("conversation not found")

// New mints a conversation record with a fresh identifier. Timestamps are
// assigned by the store on Put.
func New(title, apiKey, endpoint string) Conversation {
	return Conversation{
		ID:       id.NewConversationID(),
		Title:    title,
		APIKey:   apiKey,
		Endpoint: endpoint,
	}
}

// Conversation is the persisted record. The upload subsystem only touches
// Attachments (through the reconciler) and reads Credential.
type Conversation struct {
	ID          string             `json:"id"`
	Title       string             `json:"title,omitempty"`
	APIKey      string             `json:"api_key,omitempty"`
	Endpoint    string             `json:"endpoint,omitempty"`
	Attachments []ports.Attachment `json:"attachments"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
