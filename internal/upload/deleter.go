package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"uplink/internal/upload/ports"
	"uplink/internal/utils"
)

const deletedIDCacheSize = 2048

// RemoteDeleter issues best-effort deletes for orphaned remote files. It is
// shared by the coordinator's cancel path and the sweeper so a file id is
// deleted at most once even when both race over the same session. "Already
// deleted" responses count as success.
type RemoteDeleter struct {
	transport    ports.Transport
	logger       *utils.Logger
	observer     Observer
	buildBackoff func() backoff.BackOff
	claimed      *lru.Cache[string, struct{}]
}

// RemoteDeleterOption mutates the deleter during construction.
type RemoteDeleterOption func(*RemoteDeleter)

// WithDeleteBackoff overrides the retry policy used for each delete.
func WithDeleteBackoff(factory func() backoff.BackOff) RemoteDeleterOption {
	return func(d *RemoteDeleter) {
		d.buildBackoff = factory
	}
}

// WithDeleteObserver attaches telemetry to the deleter.
func WithDeleteObserver(observer Observer) RemoteDeleterOption {
	return func(d *RemoteDeleter) {
		d.observer = observer
	}
}

// NewRemoteDeleter builds a deleter over the transport.
func NewRemoteDeleter(transport ports.Transport, opts ...RemoteDeleterOption) (*RemoteDeleter, error) {
	if transport == nil {
		return nil, errors.New("remote deleter requires a transport")
	}
	claimed, err := lru.New[string, struct{}](deletedIDCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build deleted-id cache: %w", err)
	}
	d := &RemoteDeleter{
		transport: transport,
		logger:    utils.NewComponentLogger("RemoteDeleter"),
		claimed:   claimed,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 3 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// DeleteOrphan removes the remote file, retrying transient failures. The id
// is claimed before the first attempt, so concurrent or repeated calls for
// the same id issue no second delete. Failures are logged, never surfaced to
// the user: by the time an orphan exists their action already succeeded.
func (d *RemoteDeleter) DeleteOrphan(ctx context.Context, remoteFileID string) error {
	if remoteFileID == "" {
		return nil
	}
	if alreadyClaimed, _ := d.claimed.ContainsOrAdd(remoteFileID, struct{}{}); alreadyClaimed {
		return nil
	}

	start := time.Now()
	err := backoff.Retry(func() error {
		deleteErr := d.transport.Delete(ctx, remoteFileID)
		switch {
		case deleteErr == nil:
			return nil
		case errors.Is(deleteErr, ports.ErrRemoteNotFound):
			return nil
		case errors.Is(deleteErr, context.Canceled), errors.Is(deleteErr, context.DeadlineExceeded):
			return backoff.Permanent(deleteErr)
		default:
			return deleteErr
		}
	}, backoff.WithContext(d.buildBackoff(), ctx))

	if d.observer != nil {
		d.observer.RecordOrphanDelete(time.Since(start), err)
	}
	if err != nil {
		d.logger.Error("Failed to delete orphaned file %s: %v", remoteFileID, err)
		return fmt.Errorf("delete orphan %s: %w", remoteFileID, err)
	}
	d.logger.Debug("Deleted orphaned file %s", remoteFileID)
	return nil
}
