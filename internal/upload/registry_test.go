package upload_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/upload"
	"uplink/internal/upload/ports"
)

func newSession(conversationID, filename string) upload.Session {
	return upload.NewSession(conversationID, ports.FileUpload{
		Filename:  filename,
		MimeType:  "text/plain",
		SizeBytes: 10,
	}, time.Now(), 0)
}

func TestRegistryUpsertAndSnapshot(t *testing.T) {
	r := upload.NewRegistry()
	s1 := newSession("conv-1", "a.txt")
	s2 := newSession("conv-1", "b.txt")
	other := newSession("conv-2", "c.txt")

	r.Upsert("conv-1", s1)
	r.Upsert("conv-1", s2)
	r.Upsert("conv-2", other)

	assert.Len(t, r.LiveSessions("conv-1"), 2)
	assert.Len(t, r.LiveSessions("conv-2"), 1)
	assert.Empty(t, r.LiveSessions("conv-3"))

	found, ok := r.Find(s1.Key)
	require.True(t, ok)
	assert.Equal(t, "a.txt", found.Filename)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := upload.NewRegistry()
	s := newSession("conv-1", "a.txt")
	r.Upsert("conv-1", s)

	snap := r.LiveSessions("conv-1")
	require.Len(t, snap, 1)
	snap[0].Progress = 99

	fresh, ok := r.Find(s.Key)
	require.True(t, ok)
	assert.Zero(t, fresh.Progress)
}

func TestRegistryUpdateSkipsRemovedSession(t *testing.T) {
	r := upload.NewRegistry()
	s := newSession("conv-1", "a.txt")
	r.Upsert("conv-1", s)
	r.Remove("conv-1", s.Key)

	_, live := r.Update("conv-1", s.Key, func(s *upload.Session) {
		s.Progress = 50
	})
	assert.False(t, live, "a removed session must not be resurrected")
	assert.Empty(t, r.LiveSessions("conv-1"))
}

func TestRegistryObserverReceivesMutations(t *testing.T) {
	r := upload.NewRegistry()
	var events []upload.Event
	unobserve := r.Observe("conv-1", func(ev upload.Event) {
		events = append(events, ev)
	})

	s := newSession("conv-1", "a.txt")
	r.Upsert("conv-1", s)
	r.Remove("conv-1", s.Key)
	require.NoError(t, r.AppendCommitted("conv-1", ports.Attachment{FileID: "f1"}))

	// Mutations in other conversations are invisible to this observer.
	r.Upsert("conv-2", newSession("conv-2", "b.txt"))

	require.Len(t, events, 3)
	assert.Equal(t, upload.EventUpsert, events[0].Kind)
	assert.Equal(t, upload.EventRemove, events[1].Kind)
	assert.Equal(t, upload.EventCommit, events[2].Kind)
	assert.Equal(t, "f1", events[2].FileID)

	unobserve()
	r.Upsert("conv-1", newSession("conv-1", "c.txt"))
	assert.Len(t, events, 3, "unregistered observer must not fire")
}

func TestRegistryCommittedFileBelongsToOneConversation(t *testing.T) {
	r := upload.NewRegistry()
	att := ports.Attachment{FileID: "f1", Filename: "a.txt"}

	require.NoError(t, r.AppendCommitted("conv-1", att))
	// Same conversation again: idempotent.
	require.NoError(t, r.AppendCommitted("conv-1", att))
	assert.Len(t, r.CommittedAttachments("conv-1"), 1)

	err := r.AppendCommitted("conv-2", att)
	require.Error(t, err)
	assert.Empty(t, r.CommittedAttachments("conv-2"))

	owner, ok := r.CommittedConversation("f1")
	require.True(t, ok)
	assert.Equal(t, "conv-1", owner)
}

func TestRegistryRemoveCommittedReleasesFileID(t *testing.T) {
	r := upload.NewRegistry()
	att := ports.Attachment{FileID: "f1"}
	require.NoError(t, r.AppendCommitted("conv-1", att))

	r.RemoveCommitted("conv-1", "f1")
	assert.Empty(t, r.CommittedAttachments("conv-1"))
	_, ok := r.CommittedConversation("f1")
	assert.False(t, ok)

	// The id can be claimed by another conversation afterwards.
	require.NoError(t, r.AppendCommitted("conv-2", att))
}

func TestRegistryUpdateCommittedStatus(t *testing.T) {
	r := upload.NewRegistry()
	require.NoError(t, r.AppendCommitted("conv-1", ports.Attachment{
		FileID:           "f1",
		ProcessingStatus: ports.ProcessingCompleted,
	}))

	r.UpdateCommittedStatus("conv-1", "f1", ports.ProcessingFailed)

	atts := r.CommittedAttachments("conv-1")
	require.Len(t, atts, 1)
	assert.Equal(t, ports.ProcessingFailed, atts[0].ProcessingStatus)
}
