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
	"strings"
	"time"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/search"
	"github.com/poiesic/chatvault/storage"
)

var searchStores = []storage.StoreName{storage.StoreChats, storage.StoreMessages, storage.StoreSearch}

// recomputeSearch rebuilds the search document of one chat from its metadata
// and messages. A missing chat drops its document.
func recomputeSearch(tx *Tx, chatID core.ID) error {
	docs, err := tx.Bucket(storage.StoreSearch)
	if err != nil {
		return err
	}
	chat, err := readChat(tx, chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return docs.Delete(makeSearchKey(chatID))
	}

	messages, err := tx.Bucket(storage.StoreMessages)
	if err != nil {
		return err
	}
	var texts []string
	for kv, err := range messages.Scan(makeMessagePrefix(chatID)) {
		if err != nil {
			return err
		}
		msg, err := storage.UnmarshalMessage(kv.Value)
		if err != nil {
			return err
		}
		if text := search.ExtractText(msg); text != "" {
			texts = append(texts, text)
		}
	}

	return writeSearchDoc(docs, &core.SearchDoc{
		ChatID:      chatID,
		Content:     search.Normalize(strings.Join(texts, " ")),
		SearchTitle: search.Normalize(chat.Title),
		Timestamp:   chat.Timestamp,
	})
}

// appendSearch normalizes delta and appends it to the chat's existing search
// document. It returns false when there is no document to append to or the
// delta is blank; the caller must then recompute.
func appendSearch(tx *Tx, chatID core.ID, delta string, timestamp time.Time) (bool, error) {
	if strings.TrimSpace(delta) == "" {
		return false, nil
	}
	docs, err := tx.Bucket(storage.StoreSearch)
	if err != nil {
		return false, err
	}
	doc, err := readSearchDoc(docs, chatID)
	if err != nil || doc == nil {
		return false, err
	}

	normalized := search.Normalize(delta)
	if doc.Content == "" {
		doc.Content = normalized
	} else {
		doc.Content += " " + normalized
	}
	doc.Timestamp = timestamp
	return true, writeSearchDoc(docs, doc)
}

// refreshSearch appends delta when possible and recomputes otherwise.
func refreshSearch(tx *Tx, chatID core.ID, delta string, timestamp time.Time) error {
	ok, err := appendSearch(tx, chatID, delta, timestamp)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return recomputeSearch(tx, chatID)
}

func readSearchDoc(docs *Bucket, chatID core.ID) (*core.SearchDoc, error) {
	data, err := docs.Get(makeSearchKey(chatID))
	if err != nil || data == nil {
		return nil, err
	}
	return storage.UnmarshalSearchDoc(data)
}

func writeSearchDoc(docs *Bucket, doc *core.SearchDoc) error {
	data, err := storage.MarshalSearchDoc(doc)
	if err != nil {
		return err
	}
	return docs.Put(makeSearchKey(doc.ChatID), data)
}

// SearchRepository implements storage.SearchIndex for BadgerDB.
type SearchRepository struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.SearchIndex = (*SearchRepository)(nil)

// NewSearchRepository creates a new SearchRepository.
func NewSearchRepository(backend *Backend) *SearchRepository {
	return &SearchRepository{backend: backend, logger: backend.logger}
}

// GetSearchDoc returns the search document of a chat, or nil if absent.
func (r *SearchRepository) GetSearchDoc(ctx context.Context, chatID core.ID) (*core.SearchDoc, error) {
	return View(ctx, r.backend, []storage.StoreName{storage.StoreSearch}, func(tx *Tx) (*core.SearchDoc, error) {
		docs, err := tx.Bucket(storage.StoreSearch)
		if err != nil {
			return nil, err
		}
		return readSearchDoc(docs, chatID)
	})
}

// RecomputeSearch rebuilds one chat's search document.
func (r *SearchRepository) RecomputeSearch(ctx context.Context, chatID core.ID) error {
	return r.backend.RunTransaction(ctx, searchStores, storage.ReadWrite, func(tx *Tx) error {
		return recomputeSearch(tx, chatID)
	})
}

// RebuildSearch recomputes every document, one transaction per chat, and
// drops documents whose chat no longer exists.
func (r *SearchRepository) RebuildSearch(ctx context.Context) (int, error) {
	ids, err := listChatIDs(ctx, r.backend)
	if err != nil {
		return 0, err
	}

	orphans, err := View(ctx, r.backend, []storage.StoreName{storage.StoreChats, storage.StoreSearch}, func(tx *Tx) ([][]byte, error) {
		docs, err := tx.Bucket(storage.StoreSearch)
		if err != nil {
			return nil, err
		}
		keys, err := docs.Keys(nil)
		if err != nil {
			return nil, err
		}
		var out [][]byte
		for _, key := range keys {
			id, err := storage.UnmarshalID(key)
			if err != nil {
				return nil, err
			}
			chat, err := readChat(tx, id)
			if err != nil {
				return nil, err
			}
			if chat == nil {
				out = append(out, key)
			}
		}
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	if len(orphans) > 0 {
		err := r.backend.RunTransaction(ctx, []storage.StoreName{storage.StoreSearch}, storage.ReadWrite, func(tx *Tx) error {
			docs, err := tx.Bucket(storage.StoreSearch)
			if err != nil {
				return err
			}
			for _, key := range orphans {
				if err := docs.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	for _, id := range ids {
		if err := r.RecomputeSearch(ctx, id); err != nil {
			return 0, err
		}
	}
	r.logger.Info("rebuilt search index", "documents", len(ids), "orphansRemoved", len(orphans))
	return len(ids), nil
}

// ForEachSearchDoc visits every document in chat ID order until fn returns false.
func (r *SearchRepository) ForEachSearchDoc(ctx context.Context, fn func(*core.SearchDoc) bool) error {
	return r.backend.RunTransaction(ctx, []storage.StoreName{storage.StoreSearch}, storage.ReadOnly, func(tx *Tx) error {
		docs, err := tx.Bucket(storage.StoreSearch)
		if err != nil {
			return err
		}
		for kv, err := range docs.Scan(nil) {
			if err != nil {
				return err
			}
			doc, err := storage.UnmarshalSearchDoc(kv.Value)
			if err != nil {
				return err
			}
			if !fn(doc) {
				return nil
			}
		}
		return nil
	})
}
