package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var metaOnly = []storage.StoreName{storage.StoreMeta}

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() {
		if !backend.IsClosed() {
			backend.Close()
		}
	})
	return backend
}

func putMeta(t *testing.T, b *Backend, pairs map[string]string) {
	t.Helper()
	err := b.RunTransaction(context.Background(), metaOnly, storage.ReadWrite, func(tx *Tx) error {
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return err
		}
		for k, v := range pairs {
			if err := meta.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func getMeta(t *testing.T, b *Backend, key string) []byte {
	t.Helper()
	val, err := View(context.Background(), b, metaOnly, func(tx *Tx) ([]byte, error) {
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return nil, err
		}
		return meta.Get([]byte(key))
	})
	require.NoError(t, err)
	return val
}

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir() + "/db"
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	_, err = backend.NextID(chatIDSeq)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.RunTransaction(context.Background(), metaOnly, storage.ReadOnly, func(tx *Tx) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestNextID(t *testing.T) {
	backend := openTestBackend(t)

	var last core.ID
	for range 250 {
		id, err := backend.NextID(chatIDSeq)
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.Greater(t, id, last)
		last = id
	}

	other, err := backend.NextID(mediaIDSeq)
	require.NoError(t, err)
	assert.Equal(t, core.ID(1), other, "sequences are independent")
}

func TestRunTransaction_StoreScope(t *testing.T) {
	backend := openTestBackend(t)

	err := backend.RunTransaction(context.Background(), metaOnly, storage.ReadOnly, func(tx *Tx) error {
		_, err := tx.Bucket(storage.StoreChats)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrStoreNotInScope)

	err = backend.RunTransaction(context.Background(), metaOnly, storage.ReadOnly, func(tx *Tx) error {
		_, err := tx.Buckets(storage.StoreMeta, storage.StoreBlobs)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrStoreNotInScope)
}

func TestRunTransaction_ReadOnly(t *testing.T) {
	backend := openTestBackend(t)

	err := backend.RunTransaction(context.Background(), metaOnly, storage.ReadOnly, func(tx *Tx) error {
		assert.False(t, tx.Writable())
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return err
		}
		return meta.Put([]byte("k"), []byte("v"))
	})
	assert.ErrorIs(t, err, storage.ErrReadOnly)
}

func TestRunTransaction_AbortDiscardsWrites(t *testing.T) {
	backend := openTestBackend(t)
	boom := errors.New("boom")
	committed := false

	err := backend.RunTransaction(context.Background(), metaOnly, storage.ReadWrite, func(tx *Tx) error {
		tx.OnCommit(func() { committed = true })
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return err
		}
		if err := meta.Put([]byte("a"), []byte("1")); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, err, "errors from the unit of work are returned unchanged")
	assert.False(t, committed)
	assert.Nil(t, getMeta(t, backend, "a"))
}

func TestRunTransaction_OnCommit(t *testing.T) {
	backend := openTestBackend(t)
	var seen []byte

	err := backend.RunTransaction(context.Background(), metaOnly, storage.ReadWrite, func(tx *Tx) error {
		tx.OnCommit(func() {
			// Hooks run after commit and outside the writer lock.
			seen = getMeta(t, backend, "a")
			putMeta(t, backend, map[string]string{"b": "2"})
		})
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return err
		}
		return meta.Put([]byte("a"), []byte("1"))
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), seen)
	assert.Equal(t, []byte("2"), getMeta(t, backend, "b"))
}

func TestRunTransaction_CanceledContext(t *testing.T) {
	backend := openTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := backend.RunTransaction(ctx, metaOnly, storage.ReadWrite, func(tx *Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRunTransaction_Linearized(t *testing.T) {
	backend := openTestBackend(t)
	const workers = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Update(context.Background(), backend, metaOnly, func(tx *Tx) (int, error) {
				meta, err := tx.Bucket(storage.StoreMeta)
				if err != nil {
					return 0, err
				}
				val, err := meta.Get([]byte("counter"))
				if err != nil {
					return 0, err
				}
				n := 0
				if val != nil {
					fmt.Sscanf(string(val), "%d", &n)
				}
				n++
				return n, meta.Put([]byte("counter"), []byte(fmt.Sprint(n)))
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, []byte(fmt.Sprint(workers)), getMeta(t, backend, "counter"))
}

func TestBucket_DeletePrefixAndCount(t *testing.T) {
	backend := openTestBackend(t)
	putMeta(t, backend, map[string]string{"x:1": "a", "x:2": "b", "y:1": "c"})

	n, err := Update(context.Background(), backend, metaOnly, func(tx *Tx) (int, error) {
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return 0, err
		}
		return meta.DeletePrefix([]byte("x:"))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := View(context.Background(), backend, metaOnly, func(tx *Tx) (int, error) {
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return 0, err
		}
		return meta.Count(nil)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCursor(t *testing.T) {
	backend := openTestBackend(t)
	pairs := make(map[string]string)
	for i := range 10 {
		pairs[fmt.Sprintf("k%d", i)] = fmt.Sprint(i)
	}
	putMeta(t, backend, pairs)

	err := backend.RunTransaction(context.Background(), metaOnly, storage.ReadOnly, func(tx *Tx) error {
		meta, err := tx.Bucket(storage.StoreMeta)
		require.NoError(t, err)

		t.Run("advance", func(t *testing.T) {
			c := meta.Cursor([]byte("k"))
			defer c.Close()
			assert.Equal(t, 3, c.Advance(3))
			require.True(t, c.Next())
			assert.Equal(t, []byte("k3"), c.Key())
			assert.Equal(t, 6, c.Advance(100), "advance stops at the end")
			assert.False(t, c.Next())
		})

		t.Run("seek", func(t *testing.T) {
			c := meta.Cursor([]byte("k"))
			defer c.Close()
			c.Seek([]byte("k7"))
			require.True(t, c.Next())
			assert.Equal(t, []byte("k7"), c.Key())
			val, err := c.Value()
			require.NoError(t, err)
			assert.Equal(t, []byte("7"), val)
		})

		t.Run("reverse", func(t *testing.T) {
			c := meta.ReverseCursor([]byte("k"))
			defer c.Close()
			require.True(t, c.Next())
			assert.Equal(t, []byte("k9"), c.Key())
			c.Advance(1)
			require.True(t, c.Next())
			assert.Equal(t, []byte("k7"), c.Key())
		})

		t.Run("scan early break", func(t *testing.T) {
			var keys []string
			for kv, err := range meta.Scan([]byte("k")) {
				require.NoError(t, err)
				keys = append(keys, string(kv.Key))
				if len(keys) == 4 {
					break
				}
			}
			assert.Equal(t, []string{"k0", "k1", "k2", "k3"}, keys)
		})

		t.Run("close is idempotent", func(t *testing.T) {
			c := meta.Cursor(nil)
			c.Close()
			c.Close()
			assert.False(t, c.Next())
		})
		return nil
	})
	require.NoError(t, err)
}

func TestMigrator_FreshDatabase(t *testing.T) {
	backend := openTestBackend(t)
	ctx := context.Background()

	from, to, err := NewMigrator(backend).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, from)
	assert.Equal(t, SchemaVersion, to)

	from, to, err = NewMigrator(backend).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, from)
	assert.Equal(t, SchemaVersion, to)

	stats, err := backend.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{SchemaVersion: SchemaVersion}, stats)
}

func TestMigrator_NewerDatabase(t *testing.T) {
	backend := openTestBackend(t)
	require.NoError(t, backend.setSchemaVersion(context.Background(), SchemaVersion+1))

	_, _, err := NewMigrator(backend).Run(context.Background())
	assert.Error(t, err)
}

func TestCheckpointRepository(t *testing.T) {
	backend := openTestBackend(t)
	repo := NewCheckpointRepository(backend)
	ctx := context.Background()

	cp, err := repo.LoadCheckpoint(ctx, "sweep")
	require.NoError(t, err)
	assert.Nil(t, cp)

	err = repo.SaveCheckpoint(ctx, &storage.Checkpoint{
		Name:  "sweep",
		After: &storage.MessageKey{ChatID: 4, MessageID: 2},
	})
	require.NoError(t, err)

	cp, err = repo.LoadCheckpoint(ctx, "sweep")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, &storage.MessageKey{ChatID: 4, MessageID: 2}, cp.After)
	assert.False(t, cp.Done)
	assert.False(t, cp.UpdatedAt.IsZero())

	require.NoError(t, repo.ClearCheckpoint(ctx, "sweep"))
	cp, err = repo.LoadCheckpoint(ctx, "sweep")
	require.NoError(t, err)
	assert.Nil(t, cp)
}
