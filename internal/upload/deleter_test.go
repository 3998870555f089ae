package upload_test

import (
	"context"
	"errors"
	"testing"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/transport"
	"uplink/internal/upload"
)

func immediateRetries(n uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, n)
	}
}

func TestDeleteOrphanAlreadyGoneIsSuccess(t *testing.T) {
	fake := transport.NewInMemoryTransport()
	d, err := upload.NewRemoteDeleter(fake)
	require.NoError(t, err)

	// Nothing stored under this id: the transport reports not-found.
	require.NoError(t, d.DeleteOrphan(context.Background(), "f-gone"))
	assert.Equal(t, 1, fake.DeleteCalls("f-gone"))
}

func TestDeleteOrphanClaimsID(t *testing.T) {
	fake := transport.NewInMemoryTransport()
	d, err := upload.NewRemoteDeleter(fake)
	require.NoError(t, err)

	require.NoError(t, d.DeleteOrphan(context.Background(), "f1"))
	require.NoError(t, d.DeleteOrphan(context.Background(), "f1"))
	assert.Equal(t, 1, fake.DeleteCalls("f1"), "second call must not reach the transport")
}

func TestDeleteOrphanRetriesTransientFailures(t *testing.T) {
	fake := transport.NewInMemoryTransport()
	fake.FailDelete("f1", errors.New("503 service unavailable"))
	d, err := upload.NewRemoteDeleter(fake, upload.WithDeleteBackoff(immediateRetries(2)))
	require.NoError(t, err)

	err = d.DeleteOrphan(context.Background(), "f1")
	require.Error(t, err)
	assert.Equal(t, 3, fake.DeleteCalls("f1"))
}

func TestDeleteOrphanEmptyIDIsNoop(t *testing.T) {
	fake := transport.NewInMemoryTransport()
	d, err := upload.NewRemoteDeleter(fake)
	require.NoError(t, err)
	require.NoError(t, d.DeleteOrphan(context.Background(), ""))
	assert.Equal(t, 0, fake.DeleteCalls(""))
}
