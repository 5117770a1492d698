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
	"log/slog"
	"maps"
	"slices"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

type options struct {
	schemaVersion int
	logger        *slog.Logger
}

// Option configures an Exporter or Importer.
type Option func(*options)

// WithSchemaVersion sets the schema version recorded in exported archives.
func WithSchemaVersion(version int) Option {
	return func(o *options) {
		o.schemaVersion = version
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Exporter snapshots a database into an Archive.
type Exporter struct {
	options
	chats storage.ChatExporter
	blobs storage.BlobStore
}

// NewExporter creates an exporter reading chats from chats and blob data
// from blobs.
func NewExporter(chats storage.ChatExporter, blobs storage.BlobStore, opts ...Option) (*Exporter, error) {
	if chats == nil {
		return nil, ErrChatStoreRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	return &Exporter{options: applyOptions(opts), chats: chats, blobs: blobs}, nil
}

// Export returns every chat in its persisted form together with the blobs
// its messages reference. Blobs nothing references are left out, as are
// referenced blobs that no longer exist.
func (e *Exporter) Export(ctx context.Context) (*Archive, error) {
	a := New(e.schemaVersion)
	referenced := make(map[string]struct{})

	err := e.chats.ForEachStoredChat(ctx, func(chat *core.Chat, messages []*core.Message) error {
		entry := &ChatEntry{
			ChatRecord: *storage.NewChatRecord(chat),
			Messages:   make([]*storage.MessageRecord, 0, len(messages)),
		}
		for _, msg := range messages {
			rec, err := storage.NewMessageRecord(msg)
			if err != nil {
				return err
			}
			entry.Messages = append(entry.Messages, rec)
			for _, img := range msg.AllImages() {
				if core.IsBlobHash(img) {
					referenced[img] = struct{}{}
				}
			}
		}
		a.Add(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, hash := range slices.Sorted(maps.Keys(referenced)) {
		blob, err := e.blobs.GetBlob(ctx, hash)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			e.logger.Warn("referenced blob missing, exporting reference only", "hash", hash)
			continue
		}
		a.Blobs[hash] = blob.Data
	}

	e.logger.Info("exported archive", "chats", len(a.Chats), "blobs", len(a.Blobs))
	return a, nil
}
