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
	"log/slog"
	"time"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

var mediaStores = []storage.StoreName{storage.StoreMedia, storage.StoreMediaByMessage}

// indexMessageMedia inserts one media entry per image found in msg and
// returns the new entry IDs. msg must carry its ChatID and MessageID.
func indexMessageMedia(tx *Tx, msg *core.Message) ([]core.ID, error) {
	refs := msg.MediaRefs()
	if len(refs) == 0 {
		return nil, nil
	}
	media, err := tx.Bucket(storage.StoreMedia)
	if err != nil {
		return nil, err
	}
	byMessage, err := tx.Bucket(storage.StoreMediaByMessage)
	if err != nil {
		return nil, err
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	ids := make([]core.ID, 0, len(refs))
	for _, ref := range refs {
		id, err := tx.NextID(mediaIDSeq)
		if err != nil {
			return nil, err
		}
		entry := &core.MediaEntry{
			ID:        id,
			ChatID:    msg.ChatID,
			MessageID: msg.MessageID,
			Source:    ref.Source,
			Locator:   ref.Locator,
			Timestamp: timestamp,
		}
		if err := writeMediaEntry(media, entry); err != nil {
			return nil, err
		}
		if err := byMessage.Put(makeMediaByMessageKey(msg.ChatID, msg.MessageID, id), nil); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// clearMediaForMessage removes every media entry of one message.
func clearMediaForMessage(tx *Tx, chatID core.ID, messageID int) error {
	return clearMedia(tx, makeMediaByMessagePrefix(chatID, messageID))
}

// clearMediaForChat removes every media entry of a chat.
func clearMediaForChat(tx *Tx, chatID core.ID) error {
	return clearMedia(tx, makeMessagePrefix(chatID))
}

func clearMedia(tx *Tx, prefix []byte) error {
	media, err := tx.Bucket(storage.StoreMedia)
	if err != nil {
		return err
	}
	byMessage, err := tx.Bucket(storage.StoreMediaByMessage)
	if err != nil {
		return err
	}
	keys, err := byMessage.Keys(prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if id, ok := parseMediaByMessageKey(key); ok {
			if err := media.Delete(makeMediaKey(id)); err != nil {
				return err
			}
		}
		if err := byMessage.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func readMediaEntry(media *Bucket, id core.ID) (*core.MediaEntry, error) {
	data, err := media.Get(makeMediaKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	return storage.UnmarshalMediaEntry(data)
}

func writeMediaEntry(media *Bucket, entry *core.MediaEntry) error {
	data, err := storage.MarshalMediaEntry(entry)
	if err != nil {
		return err
	}
	return media.Put(makeMediaKey(entry.ID), data)
}

// MediaRepository implements storage.MediaIndex for BadgerDB.
type MediaRepository struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.MediaIndex = (*MediaRepository)(nil)

// NewMediaRepository creates a new MediaRepository.
func NewMediaRepository(backend *Backend) *MediaRepository {
	return &MediaRepository{backend: backend, logger: backend.logger}
}

// ListMedia returns entries newest first. Entry IDs grow with insertion, so
// the newest entries have the largest IDs.
func (r *MediaRepository) ListMedia(ctx context.Context, offset, limit int) ([]*core.MediaEntry, error) {
	if offset < 0 {
		return nil, storage.ErrInvalidQuery
	}
	return View(ctx, r.backend, []storage.StoreName{storage.StoreMedia}, func(tx *Tx) ([]*core.MediaEntry, error) {
		media, err := tx.Bucket(storage.StoreMedia)
		if err != nil {
			return nil, err
		}
		c := media.ReverseCursor(nil)
		defer c.Close()
		c.Advance(offset)

		entries := []*core.MediaEntry{}
		for (limit <= 0 || len(entries) < limit) && c.Next() {
			data, err := c.Value()
			if err != nil {
				return nil, err
			}
			entry, err := storage.UnmarshalMediaEntry(data)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		return entries, nil
	})
}

// GetMediaEntry returns one entry, or nil if absent.
func (r *MediaRepository) GetMediaEntry(ctx context.Context, id core.ID) (*core.MediaEntry, error) {
	return View(ctx, r.backend, []storage.StoreName{storage.StoreMedia}, func(tx *Tx) (*core.MediaEntry, error) {
		media, err := tx.Bucket(storage.StoreMedia)
		if err != nil {
			return nil, err
		}
		return readMediaEntry(media, id)
	})
}

// GetMediaImage re-locates the entry's image and returns its literal data.
func (r *MediaRepository) GetMediaImage(ctx context.Context, id core.ID) (string, error) {
	stores := []storage.StoreName{storage.StoreMedia, storage.StoreMessages, storage.StoreBlobs}
	return View(ctx, r.backend, stores, func(tx *Tx) (string, error) {
		media, err := tx.Bucket(storage.StoreMedia)
		if err != nil {
			return "", err
		}
		entry, err := readMediaEntry(media, id)
		if err != nil || entry == nil {
			return "", err
		}
		msg, err := readMessage(tx, entry.ChatID, entry.MessageID)
		if err != nil || msg == nil {
			return "", err
		}
		img, ok := msg.ImageAt(entry.Locator)
		if !ok {
			return "", nil
		}
		resolver, err := newBlobResolver(tx)
		if err != nil {
			return "", err
		}
		return resolver.resolve(img)
	})
}

// SetThumbnail patches an entry with its thumbnail.
func (r *MediaRepository) SetThumbnail(ctx context.Context, id core.ID, thumbnail string, width, height int) error {
	return r.backend.RunTransaction(ctx, []storage.StoreName{storage.StoreMedia}, storage.ReadWrite, func(tx *Tx) error {
		media, err := tx.Bucket(storage.StoreMedia)
		if err != nil {
			return err
		}
		entry, err := readMediaEntry(media, id)
		if err != nil || entry == nil {
			// Deleted while the thumbnail was being generated.
			return err
		}
		entry.Thumbnail = thumbnail
		entry.Width = width
		entry.Height = height
		return writeMediaEntry(media, entry)
	})
}

// MissingThumbnails returns up to limit IDs of entries without a thumbnail,
// in ID order. A limit of zero or less returns all of them.
func (r *MediaRepository) MissingThumbnails(ctx context.Context, limit int) ([]core.ID, error) {
	return View(ctx, r.backend, []storage.StoreName{storage.StoreMedia}, func(tx *Tx) ([]core.ID, error) {
		media, err := tx.Bucket(storage.StoreMedia)
		if err != nil {
			return nil, err
		}
		var ids []core.ID
		for kv, err := range media.Scan(nil) {
			if err != nil {
				return nil, err
			}
			entry, err := storage.UnmarshalMediaEntry(kv.Value)
			if err != nil {
				return nil, err
			}
			if entry.HasThumbnail() {
				continue
			}
			ids = append(ids, entry.ID)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
		return ids, nil
	})
}

// RebuildMedia clears the media index and reindexes every chat, one
// transaction per chat. Thumbnails are not carried over.
func (r *MediaRepository) RebuildMedia(ctx context.Context) (int, error) {
	err := r.backend.RunTransaction(ctx, mediaStores, storage.ReadWrite, func(tx *Tx) error {
		for _, name := range mediaStores {
			bucket, err := tx.Bucket(name)
			if err != nil {
				return err
			}
			if _, err := bucket.DeletePrefix(nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	ids, err := listChatIDs(ctx, r.backend)
	if err != nil {
		return 0, err
	}

	stores := []storage.StoreName{storage.StoreMessages, storage.StoreMedia, storage.StoreMediaByMessage}
	total := 0
	for _, chatID := range ids {
		n, err := Update(ctx, r.backend, stores, func(tx *Tx) (int, error) {
			msgs, err := readStoredMessages(tx, chatID, 0, 0)
			if err != nil {
				return 0, err
			}
			count := 0
			for _, msg := range msgs {
				entries, err := indexMessageMedia(tx, msg)
				if err != nil {
					return 0, err
				}
				count += len(entries)
			}
			return count, nil
		})
		if err != nil {
			return 0, err
		}
		total += n
	}
	r.logger.Info("rebuilt media index", "chats", len(ids), "entries", total)
	return total, nil
}
