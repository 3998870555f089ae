package upload_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/transport"
	"uplink/internal/upload"
	"uplink/internal/upload/ports"
)

func TestSweepCancelsSessionsAndDeletesOrphansOnce(t *testing.T) {
	f := newFixture(t, upload.Limits{MaxFilesPerConversation: 5}, 20*time.Millisecond)
	f.addConversation("conv-1")
	hold := make(chan struct{})
	f.transport.ScriptUpload("stuck.mov", transport.Script{
		Progress: []int{30, 60},
		Hold:     hold,
		FileID:   "f-stuck",
	})

	_, err := f.service.Coordinator.SubmitBatch(context.Background(), "conv-1",
		[]ports.FileUpload{testFile("stuck.mov")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		live := f.service.Registry.LiveSessions("conv-1")
		return len(live) == 1 && live[0].RemoteFileID == "f-stuck"
	}, time.Second, 5*time.Millisecond)

	f.service.Sweeper.Sweep("conv-1")
	f.service.Sweeper.Wait()

	assert.Empty(t, f.service.Registry.LiveSessions("conv-1"))
	assert.Equal(t, 1, f.transport.DeleteCalls("f-stuck"),
		"cancel path and sweep path must not both delete")

	// A second sweep finds nothing and deletes nothing more.
	f.service.Sweeper.Sweep("conv-1")
	f.service.Sweeper.Wait()
	assert.Equal(t, 1, f.transport.DeleteCalls("f-stuck"))
}

func TestSweepGraceLetsInFlightCommitLand(t *testing.T) {
	f := newFixture(t, upload.Limits{MaxFilesPerConversation: 5}, 250*time.Millisecond)
	f.addConversation("conv-1")
	hold := make(chan struct{})
	f.transport.ScriptUpload("almost.txt", transport.Script{
		Progress: []int{50, 100},
		Hold:     hold,
		FileID:   "f-almost",
	})

	_, err := f.service.Coordinator.SubmitBatch(context.Background(), "conv-1",
		[]ports.FileUpload{testFile("almost.txt")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		live := f.service.Registry.LiveSessions("conv-1")
		return len(live) == 1 && live[0].Progress == 100
	}, time.Second, 5*time.Millisecond)

	// Teardown schedules a sweep while the server ack is still outstanding.
	f.service.Sweeper.Sweep("conv-1")
	close(hold)

	f.service.Sweeper.Wait()

	atts, err := f.store.Attachments(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "f-almost", atts[0].FileID)
	assert.Zero(t, f.transport.DeleteCalls("f-almost"),
		"a committed file is not an orphan")
}

func TestSweepDebounceCoalesces(t *testing.T) {
	f := newFixture(t, upload.Limits{MaxFilesPerConversation: 5}, 50*time.Millisecond)
	f.addConversation("conv-1")

	for i := 0; i < 5; i++ {
		f.service.Sweeper.Sweep("conv-1")
	}
	f.service.Sweeper.Wait()

	snap := f.observer.snapshot()
	assert.Equal(t, 1, snap.sweeps, "repeated teardowns within the window coalesce")
}

func TestSweepNowSkipsGrace(t *testing.T) {
	f := newFixture(t, upload.Limits{MaxFilesPerConversation: 5}, time.Hour)
	f.addConversation("conv-1")
	hold := make(chan struct{})
	f.transport.ScriptUpload("doomed.txt", transport.Script{
		Progress: []int{40},
		Hold:     hold,
		FileID:   "f-doomed",
	})

	_, err := f.service.Coordinator.SubmitBatch(context.Background(), "conv-1",
		[]ports.FileUpload{testFile("doomed.txt")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		live := f.service.Registry.LiveSessions("conv-1")
		return len(live) == 1 && live[0].RemoteFileID == "f-doomed"
	}, time.Second, 5*time.Millisecond)

	// A pending debounced sweep is superseded by the immediate one.
	f.service.Sweeper.Sweep("conv-1")
	f.service.Sweeper.SweepNow("conv-1")
	f.service.Sweeper.Wait()

	assert.Empty(t, f.service.Registry.LiveSessions("conv-1"))
	assert.Equal(t, 1, f.transport.DeleteCalls("f-doomed"))
}
