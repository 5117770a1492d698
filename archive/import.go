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


package archive

import (
	"context"
	"fmt"

	"github.com/poiesic/chatvault/storage"
)

// ImportResult reports what an import did.
type ImportResult = storage.ImportResult

// Importer loads archives into a chat store.
type Importer struct {
	options
	chats storage.ChatImporter
}

// NewImporter creates an importer writing to chats.
func NewImporter(chats storage.ChatImporter, opts ...Option) (*Importer, error) {
	if chats == nil {
		return nil, ErrChatStoreRequired
	}
	return &Importer{options: applyOptions(opts), chats: chats}, nil
}

// Import inserts every archived chat whose (title, timestamp) is not already
// present, in original chat ID order, then rewrites continuedFromChatId of
// the inserted chats through the resulting ID map. A reference to a chat
// that is neither in the database nor in the archive is dropped.
//
// The archive is imported whole or not at all: a chat that cannot be decoded
// or stored fails the import and leaves the database unchanged.
func (im *Importer) Import(ctx context.Context, a *Archive) (*ImportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := a.Entries()
	chats := make([]*storage.ImportChat, 0, len(entries))
	for _, entry := range entries {
		msgs, err := entry.decodeMessages(a.Blobs)
		if err != nil {
			return nil, fmt.Errorf("%w: chat %d: %w", ErrInvalidArchive, entry.ChatID, err)
		}
		chats = append(chats, &storage.ImportChat{
			SourceID:      entry.ChatID,
			Title:         entry.Title,
			Timestamp:     storage.MillisToTime(entry.Timestamp),
			Renamed:       entry.Renamed,
			ContinuedFrom: entry.ContinuedFrom,
			Messages:      msgs,
		})
	}

	res, err := im.chats.ImportChats(ctx, chats)
	if err != nil {
		return nil, err
	}
	im.logger.Info("imported archive", "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}
