package sweep

import (
	"context"
	"testing"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
	"github.com/poiesic/chatvault/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMaintainer(t *testing.T) {
	_, err := NewMaintainer(nil)
	assert.ErrorIs(t, err, ErrBlobStoreRequired)
}

func TestMaintainer_RepairBlobs(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	ctx := context.Background()

	gif := "data:image/gif;base64,R0lGODlhAQABAAAAACw="
	msg := textMessage(core.RoleUser, "two pictures")
	msg.Images = []string{testPNG, gif}
	chatID, err := repos.Chats.CreateChat(ctx, "pictures", []*core.Message{msg}, storage.CreateOptions{})
	require.NoError(t, err)

	hash := core.BlobHash(testPNG)
	damaged := testPNG + " There you go, a single pixel."
	require.NoError(t, repos.Blobs.ReplaceBlobData(ctx, hash, damaged))

	m, err := NewMaintainer(repos.Blobs, WithConfig(&Config{BatchSize: 1}))
	require.NoError(t, err)

	dry, err := m.RepairBlobs(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, dry.Scanned)
	assert.Equal(t, 1, dry.Damaged)
	assert.Zero(t, dry.Repaired)
	blob, err := repos.Blobs.GetBlob(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, damaged, blob.Data, "dry run writes nothing")

	result, err := m.RepairBlobs(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Repaired)
	assert.Zero(t, result.Failed)

	_, msgs, err := repos.Chats.LoadChat(ctx, chatID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{testPNG, gif}, msgs[0].Images, "messages keep the original hash")

	again, err := m.RepairBlobs(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, again.Damaged)
}

func TestMaintainer_ReconcileBlobs(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	ctx := context.Background()

	msg := textMessage(core.RoleUser, "picture")
	msg.Images = []string{testPNG}
	_, err = repos.Chats.CreateChat(ctx, "pictures", []*core.Message{msg}, storage.CreateOptions{})
	require.NoError(t, err)

	m, err := NewMaintainer(repos.Blobs, WithConfig(fastRetries))
	require.NoError(t, err)
	result, err := m.ReconcileBlobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.ReconcileResult{Scanned: 1}, result)
}
