package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"uplink/internal/upload/ports"
)

// QuotaScope names which limit a batch violated.
type QuotaScope string

const (
	ScopePerConversation QuotaScope = "per_conversation"
	ScopeGlobal          QuotaScope = "global"
)

// QuotaError reports a rejected batch. The batch is all-or-nothing: when this
// is returned, zero uploads were started.
type QuotaError struct {
	Scope   QuotaScope
	Limit   int
	Current int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("attachment quota exceeded (%s): %d existing, limit %d", e.Scope, e.Current, e.Limit)
}

// ErrAuthNotConfigured means the conversation has no usable credential:
// uploads must never run under the shared application default key.
var ErrAuthNotConfigured = errors.New("conversation has no API credential configured")

// Limits configures attachment-count quotas. Zero or negative values disable
// the corresponding check.
type Limits struct {
	MaxFilesPerConversation int
	MaxTotalFiles           int
}

// QuotaEnforcer validates a prospective batch against attachment-count limits
// and credential configuration before any upload starts.
type QuotaEnforcer struct {
	store          ports.ConversationStore
	limits         Limits
	placeholderKey string
}

// NewQuotaEnforcer builds an enforcer. placeholderKey is the application
// default credential that must never be used for uploads.
func NewQuotaEnforcer(store ports.ConversationStore, limits Limits, placeholderKey string) *QuotaEnforcer {
	return &QuotaEnforcer{store: store, limits: limits, placeholderKey: placeholderKey}
}

// Check validates (conversationID, proposed) against a single snapshot of
// current state. It returns nil, a *QuotaError, or ErrAuthNotConfigured.
func (q *QuotaEnforcer) Check(ctx context.Context, conversationID string, proposed int) error {
	if err := q.checkCredential(ctx, conversationID); err != nil {
		return err
	}

	if q.limits.MaxFilesPerConversation > 0 {
		existing, err := q.store.Attachments(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("read attachments for %s: %w", conversationID, err)
		}
		if len(existing)+proposed > q.limits.MaxFilesPerConversation {
			return &QuotaError{
				Scope:   ScopePerConversation,
				Limit:   q.limits.MaxFilesPerConversation,
				Current: len(existing),
			}
		}
	}

	if q.limits.MaxTotalFiles > 0 {
		total, err := q.totalAttachments(ctx)
		if err != nil {
			return err
		}
		if total+proposed > q.limits.MaxTotalFiles {
			return &QuotaError{
				Scope:   ScopeGlobal,
				Limit:   q.limits.MaxTotalFiles,
				Current: total,
			}
		}
	}

	return nil
}

func (q *QuotaEnforcer) checkCredential(ctx context.Context, conversationID string) error {
	cred, err := q.store.Credential(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("read credential for %s: %w", conversationID, err)
	}
	key := strings.TrimSpace(cred.APIKey)
	if key == "" || (q.placeholderKey != "" && key == q.placeholderKey) {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrAuthNotConfigured)
	}
	return nil
}

func (q *QuotaEnforcer) totalAttachments(ctx context.Context) (int, error) {
	ids, err := q.store.ConversationIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}
	total := 0
	for _, id := range ids {
		atts, err := q.store.Attachments(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("read attachments for %s: %w", id, err)
		}
		total += len(atts)
	}
	return total, nil
}
