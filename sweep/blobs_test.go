package sweep

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
	"github.com/poiesic/chatvault/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR4nGP4z8DwHwAFAAH/iZk9HQAAAABJRU5ErkJggg=="

var fastRetries = &Config{BatchSize: 2, MaxRetries: 2, RetryDelay: time.Millisecond}

func textMessage(role core.Role, text string) *core.Message {
	return &core.Message{
		Role:      role,
		Timestamp: time.UnixMilli(1_700_000_000_000).UTC(),
		Payload:   &core.PlainPayload{Contents: []core.ContentGroup{core.TextGroup(text)}},
	}
}

type fakeSweeper struct {
	mu        sync.Mutex
	keys      []storage.MessageKey
	failOn    map[storage.MessageKey]bool
	converted []storage.MessageKey
}

func newFakeSweeper(chatID core.ID, n int) *fakeSweeper {
	f := &fakeSweeper{failOn: map[storage.MessageKey]bool{}}
	for i := range n {
		f.keys = append(f.keys, storage.MessageKey{ChatID: chatID, MessageID: i})
	}
	return f
}

func (f *fakeSweeper) ScanMessageKeys(ctx context.Context, after *storage.MessageKey, limit int) ([]storage.MessageKey, error) {
	start := 0
	if after != nil {
		start = slices.Index(f.keys, *after) + 1
	}
	end := min(start+limit, len(f.keys))
	return slices.Clone(f.keys[start:end]), nil
}

func (f *fakeSweeper) ConvertInlineImages(ctx context.Context, keys []storage.MessageKey) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		if f.failOn[k] {
			return 0, errors.New("batch exploded")
		}
	}
	f.converted = append(f.converted, keys...)
	return len(keys), nil
}

type fakeCheckpoints struct {
	saved map[string]*storage.Checkpoint
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{saved: map[string]*storage.Checkpoint{}}
}

func (f *fakeCheckpoints) SaveCheckpoint(ctx context.Context, cp *storage.Checkpoint) error {
	c := *cp
	f.saved[cp.Name] = &c
	return nil
}

func (f *fakeCheckpoints) LoadCheckpoint(ctx context.Context, name string) (*storage.Checkpoint, error) {
	return f.saved[name], nil
}

func (f *fakeCheckpoints) ClearCheckpoint(ctx context.Context, name string) error {
	delete(f.saved, name)
	return nil
}

func TestNewBlobMigrator(t *testing.T) {
	_, err := NewBlobMigrator(nil, NewState())
	assert.ErrorIs(t, err, ErrSweeperRequired)

	_, err = NewBlobMigrator(newFakeSweeper(1, 1), nil)
	assert.ErrorIs(t, err, ErrStateRequired)

	m, err := NewBlobMigrator(newFakeSweeper(1, 1), NewState(), WithConfig(&Config{BatchSize: 7}), WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, 7, m.config.BatchSize)
	assert.Equal(t, DefaultConfig().MaxRetries, m.config.MaxRetries, "zero fields keep defaults")
	assert.NotNil(t, m.logger)
}

func TestBlobMigrator_ConvertsInlineImages(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	ctx := context.Background()

	var chats []core.ID
	for range 2 {
		id, err := repos.Chats.CreateChat(ctx, "old", []*core.Message{
			textMessage(core.RoleUser, "hello"),
			textMessage(core.RoleAssistant, "hi"),
		}, storage.CreateOptions{})
		require.NoError(t, err)
		chats = append(chats, id)

		inline := textMessage(core.RoleUser, "look")
		inline.ChatID = id
		inline.MessageID = 2
		inline.Images = []string{testPNG}
		require.NoError(t, repos.PutStoredMessage(ctx, inline))
	}

	stats, err := repos.Backend.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Blobs)

	state := NewState()
	var progress bytes.Buffer
	m, err := NewBlobMigrator(repos.Chats, state,
		WithCheckpoints(badger.NewCheckpointRepository(repos.Backend)),
		WithConfig(fastRetries),
		WithProgress(&progress, stats.Messages))
	require.NoError(t, err)

	result, err := m.Run(ctx)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 6, result.Scanned)
	assert.Equal(t, 2, result.Converted)
	assert.Zero(t, result.FailedBatches)
	assert.Equal(t, Done, state.Phase())
	assert.Contains(t, progress.String(), "6/6")

	blob, err := repos.Blobs.GetBlob(ctx, core.BlobHash(testPNG))
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, core.NewOwnerSet(chats...), blob.Owners)

	for _, id := range chats {
		msg, err := repos.Chats.GetMessage(ctx, id, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{testPNG}, msg.Images)
	}

	again, err := m.Run(ctx)
	require.NoError(t, err)
	assert.True(t, again.Skipped, "state is done")

	// A fresh state still finds the Done checkpoint.
	m2, err := NewBlobMigrator(repos.Chats, NewState(),
		WithCheckpoints(badger.NewCheckpointRepository(repos.Backend)))
	require.NoError(t, err)
	again, err = m2.Run(ctx)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, Done, m2.State().Phase())

	require.NoError(t, m2.Restart(ctx))
	assert.Equal(t, NotStarted, m2.State().Phase())
	again, err = m2.Run(ctx)
	require.NoError(t, err)
	assert.False(t, again.Skipped)
	assert.Equal(t, 6, again.Scanned)
	assert.Zero(t, again.Converted, "nothing left inline")
}

func TestBlobMigrator_FailedBatchDoesNotStopSweep(t *testing.T) {
	sweeper := newFakeSweeper(1, 6)
	sweeper.failOn[storage.MessageKey{ChatID: 1, MessageID: 3}] = true
	checkpoints := newFakeCheckpoints()

	state := NewState()
	m, err := NewBlobMigrator(sweeper, state, WithCheckpoints(checkpoints), WithConfig(fastRetries))
	require.NoError(t, err)

	result, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.Scanned)
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, 1, result.FailedBatches)
	assert.Equal(t, 4, result.Converted)
	assert.Equal(t, []storage.MessageKey{{ChatID: 1, MessageID: 0}, {ChatID: 1, MessageID: 1}, {ChatID: 1, MessageID: 4}, {ChatID: 1, MessageID: 5}}, sweeper.converted)
	assert.Equal(t, Done, state.Phase())
	assert.Empty(t, checkpoints.saved, "an incomplete sweep starts over next time")
}

func TestBlobMigrator_ResumesFromCheckpoint(t *testing.T) {
	sweeper := newFakeSweeper(1, 6)
	checkpoints := newFakeCheckpoints()
	checkpoints.saved[BlobSweepCheckpoint] = &storage.Checkpoint{
		Name:  BlobSweepCheckpoint,
		After: &storage.MessageKey{ChatID: 1, MessageID: 3},
	}

	m, err := NewBlobMigrator(sweeper, NewState(), WithCheckpoints(checkpoints), WithConfig(fastRetries))
	require.NoError(t, err)

	result, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, []storage.MessageKey{{ChatID: 1, MessageID: 4}, {ChatID: 1, MessageID: 5}}, sweeper.converted)

	cp := checkpoints.saved[BlobSweepCheckpoint]
	require.NotNil(t, cp)
	assert.True(t, cp.Done)
	assert.Equal(t, &storage.MessageKey{ChatID: 1, MessageID: 5}, cp.After)
}

func TestBlobMigrator_Lifecycle(t *testing.T) {
	t.Run("already running", func(t *testing.T) {
		state := NewState()
		require.True(t, state.TryStart())
		m, err := NewBlobMigrator(newFakeSweeper(1, 2), state)
		require.NoError(t, err)

		_, err = m.Run(context.Background())
		assert.ErrorIs(t, err, ErrAlreadyRunning)
		assert.ErrorIs(t, m.Restart(context.Background()), ErrAlreadyRunning)
	})

	t.Run("canceled sweep can run again", func(t *testing.T) {
		sweeper := newFakeSweeper(1, 2)
		state := NewState()
		m, err := NewBlobMigrator(sweeper, state, WithConfig(fastRetries))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = m.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, NotStarted, state.Phase())

		result, err := m.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Converted)
		assert.Equal(t, Done, state.Phase())
	})

	t.Run("empty store", func(t *testing.T) {
		m, err := NewBlobMigrator(newFakeSweeper(1, 0), NewState())
		require.NoError(t, err)
		result, err := m.Run(context.Background())
		require.NoError(t, err)
		assert.Zero(t, result.Batches)
	})
}
