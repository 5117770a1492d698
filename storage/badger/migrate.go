// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

// SchemaVersion is the on-disk schema version this package writes.
//
//	1  base stores
//	2  legacy flat messages transformed to the branching shape
//	3  search documents rebuilt
//	4  blob store; inline images are converted by the background sweep
//	5  media index rebuilt
const SchemaVersion = 5

type migrationStep struct {
	version int
	name    string
	run     func(ctx context.Context) error
}

// Migrator upgrades a database to SchemaVersion. Every step is idempotent
// and the stored version advances after each one, so an interrupted run
// resumes at the failed step.
type Migrator struct {
	backend *Backend
	logger  *slog.Logger
	steps   []migrationStep
}

// NewMigrator creates a Migrator for backend.
func NewMigrator(backend *Backend) *Migrator {
	m := &Migrator{backend: backend, logger: backend.logger}
	m.steps = []migrationStep{
		{1, "base stores", m.noop},
		{2, "branching messages", m.transformLegacyMessages},
		{3, "search index", func(ctx context.Context) error {
			_, err := NewSearchRepository(backend).RebuildSearch(ctx)
			return err
		}},
		{4, "blob store", m.noop},
		{5, "media index", func(ctx context.Context) error {
			_, err := NewMediaRepository(backend).RebuildMedia(ctx)
			return err
		}},
	}
	return m
}

// Run applies every step above the stored version and returns the version
// found and the version reached.
func (m *Migrator) Run(ctx context.Context) (from, to int, err error) {
	from, err = m.backend.SchemaVersion(ctx)
	if err != nil {
		return 0, 0, err
	}
	if from > SchemaVersion {
		return from, from, fmt.Errorf("database schema version %d is newer than supported version %d", from, SchemaVersion)
	}

	to = from
	for _, step := range m.steps {
		if from >= step.version {
			continue
		}
		m.logger.Info("applying migration", "version", step.version, "step", step.name)
		if err := step.run(ctx); err != nil {
			return from, to, fmt.Errorf("migration %d (%s): %w", step.version, step.name, err)
		}
		if err := m.backend.setSchemaVersion(ctx, step.version); err != nil {
			return from, to, err
		}
		to = step.version
	}
	return from, to, nil
}

func (m *Migrator) noop(context.Context) error {
	return nil
}

// transformLegacyMessages rewrites every chat holding legacy flat records
// into the branching shape, one transaction per chat.
func (m *Migrator) transformLegacyMessages(ctx context.Context) error {
	chatIDs, err := View(ctx, m.backend, []storage.StoreName{storage.StoreMessages}, func(tx *Tx) ([]core.ID, error) {
		messages, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return nil, err
		}
		c := messages.cursor(nil, false, false)
		defer c.Close()
		var ids []core.ID
		for c.Next() {
			key, ok := parseMessageKey(c.Key())
			if !ok {
				continue
			}
			if len(ids) == 0 || ids[len(ids)-1] != key.ChatID {
				ids = append(ids, key.ChatID)
			}
		}
		return ids, nil
	})
	if err != nil {
		return err
	}

	converted := 0
	for _, chatID := range chatIDs {
		changed, err := Update(ctx, m.backend, []storage.StoreName{storage.StoreMessages}, func(tx *Tx) (bool, error) {
			return migrateChatMessages(tx, chatID)
		})
		if err != nil {
			return fmt.Errorf("chat %d: %w", chatID, err)
		}
		if changed {
			converted++
		}
	}
	m.logger.Info("transformed legacy messages", "chats", len(chatIDs), "converted", converted)
	return nil
}

// migrateChatMessages folds each run of legacy records of one chat into
// branching messages, passes current records through and renumbers the
// result densely. It reports whether anything changed.
func migrateChatMessages(tx *Tx, chatID core.ID) (bool, error) {
	messages, err := tx.Bucket(storage.StoreMessages)
	if err != nil {
		return false, err
	}

	var records []*storage.MessageRecord
	hasLegacy := false
	for kv, err := range messages.Scan(makeMessagePrefix(chatID)) {
		if err != nil {
			return false, err
		}
		rec, err := storage.UnmarshalMessageRecord(kv.Value)
		if err != nil {
			return false, err
		}
		if rec.IsLegacy() {
			hasLegacy = true
		}
		records = append(records, rec)
	}
	if !hasLegacy {
		return false, nil
	}

	var (
		out []*core.Message
		run []core.LegacyMessage
	)
	flush := func() {
		if len(run) > 0 {
			out = append(out, core.TransformLegacyMessages(run)...)
			run = nil
		}
	}
	for _, rec := range records {
		if rec.IsLegacy() {
			leg, err := rec.Legacy()
			if err != nil {
				return false, err
			}
			leg.ChatID = chatID
			run = append(run, leg)
			continue
		}
		flush()
		msg, err := rec.Message()
		if err != nil {
			return false, err
		}
		out = append(out, msg)
	}
	flush()

	if _, err := messages.DeletePrefix(makeMessagePrefix(chatID)); err != nil {
		return false, err
	}
	for i, msg := range out {
		msg.ChatID = chatID
		msg.MessageID = i
		if err := putMessage(messages, msg); err != nil {
			return false, err
		}
	}
	return true, nil
}

// SchemaVersion returns the stored schema version, 0 for a new database.
func (b *Backend) SchemaVersion(ctx context.Context) (int, error) {
	return View(ctx, b, []storage.StoreName{storage.StoreMeta}, func(tx *Tx) (int, error) {
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return 0, err
		}
		data, err := meta.Get([]byte(metaSchemaVersion))
		if err != nil || data == nil {
			return 0, err
		}
		if len(data) != 8 {
			return 0, fmt.Errorf("%w: schema version needs 8 bytes, got %d", storage.ErrSerializationFailed, len(data))
		}
		return int(binary.BigEndian.Uint64(data)), nil
	})
}

func (b *Backend) setSchemaVersion(ctx context.Context, version int) error {
	return b.RunTransaction(ctx, []storage.StoreName{storage.StoreMeta}, storage.ReadWrite, func(tx *Tx) error {
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(version))
		return meta.Put([]byte(metaSchemaVersion), buf)
	})
}

// Stats counts the records of every store in one read transaction.
func (b *Backend) Stats(ctx context.Context) (storage.Stats, error) {
	version, err := b.SchemaVersion(ctx)
	if err != nil {
		return storage.Stats{}, err
	}
	return View(ctx, b, storage.AllStores, func(tx *Tx) (storage.Stats, error) {
		stats := storage.Stats{SchemaVersion: version}
		counts := []struct {
			store storage.StoreName
			dst   *int
		}{
			{storage.StoreChats, &stats.Chats},
			{storage.StoreMessages, &stats.Messages},
			{storage.StoreBlobs, &stats.Blobs},
			{storage.StoreSearch, &stats.SearchDocs},
			{storage.StoreMedia, &stats.MediaEntries},
		}
		for _, c := range counts {
			bucket, err := tx.Bucket(c.store)
			if err != nil {
				return stats, err
			}
			if *c.dst, err = bucket.Count(nil); err != nil {
				return stats, err
			}
		}

		media, err := tx.Bucket(storage.StoreMedia)
		if err != nil {
			return stats, err
		}
		for kv, err := range media.Scan(nil) {
			if err != nil {
				return stats, err
			}
			entry, err := storage.UnmarshalMediaEntry(kv.Value)
			if err != nil {
				return stats, err
			}
			if entry.HasThumbnail() {
				stats.Thumbnails++
			}
		}
		return stats, nil
	})
}
