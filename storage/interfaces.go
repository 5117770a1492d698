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


package storage

import (
	"context"
	"time"

	"github.com/poiesic/chatvault/core"
)

// MessageKey identifies one message record.
type MessageKey struct {
	ChatID    core.ID
	MessageID int
}

// CreateOptions carries optional chat metadata for CreateChat.
type CreateOptions struct {
	// Timestamp defaults to the current time.
	Timestamp     time.Time
	Renamed       bool
	ContinuedFrom core.ID
}

// UpdateOptions controls search maintenance in UpdateMessage.
// The default is a full search recompute.
type UpdateOptions struct {
	// SkipSearchRefresh leaves the search document untouched.
	SkipSearchRefresh bool
	// AppendSearch appends the text the update adds, such as a new
	// regeneration, to the existing search document instead of recomputing
	// it. Falls back to a recompute when there is no document to append to.
	AppendSearch bool
}

// ChatStore provides the chat and message operations. Every mutating call is
// one transaction spanning the chat, message, blob, search and media stores.
//
// Reads of a missing chat or message return nil without an error. Read
// paths resolve blob hashes back to inline data.
type ChatStore interface {
	// CreateChat inserts a chat with its initial messages and returns the
	// assigned chat ID. Message IDs are assigned densely from 0.
	CreateChat(ctx context.Context, title string, messages []*core.Message, opts CreateOptions) (core.ID, error)

	// AppendMessages inserts messages at startIndex, startIndex+1, ...
	// startIndex must equal the chat's current message count.
	AppendMessages(ctx context.Context, chatID core.ID, messages []*core.Message, startIndex int) error

	// UpdateMessage replaces one message in place.
	UpdateMessage(ctx context.Context, chatID core.ID, messageID int, msg *core.Message, opts UpdateOptions) error

	// LoadChat returns chat metadata and messages. A positive limit returns
	// only the last limit messages.
	LoadChat(ctx context.Context, chatID core.ID, limit int) (*core.Chat, []*core.Message, error)

	// GetMessages returns up to limit messages starting at start. A limit of
	// zero or less returns all remaining messages.
	GetMessages(ctx context.Context, chatID core.ID, start, limit int) ([]*core.Message, error)

	// GetMessage returns a single message.
	GetMessage(ctx context.Context, chatID core.ID, messageID int) (*core.Message, error)

	// DeleteChat removes a chat and everything derived from it and releases
	// its blob references. Deleting a missing chat is a no-op.
	DeleteChat(ctx context.Context, chatID core.ID) error

	// RenameChat sets the title, marks the chat renamed and recomputes its
	// search document.
	RenameChat(ctx context.Context, chatID core.ID, title string) error

	// SetContinuedFrom rewrites the chat's back-reference.
	SetContinuedFrom(ctx context.Context, chatID, from core.ID) error

	// GetChat returns chat metadata only.
	GetChat(ctx context.Context, chatID core.ID) (*core.Chat, error)

	// ListChats returns chats newest first. A limit of zero or less returns all.
	ListChats(ctx context.Context, limit int) ([]*core.Chat, error)
}

// ImportChat is one chat handed to ImportChats. SourceID and ContinuedFrom
// are IDs in the database the chat came from.
type ImportChat struct {
	SourceID      core.ID
	Title         string
	Timestamp     time.Time
	Renamed       bool
	ContinuedFrom core.ID
	Messages      []*core.Message
}

// ImportResult reports what ImportChats did.
type ImportResult struct {
	Imported int
	Skipped  int // already present, matched by title and timestamp
	// IDMap maps source chat IDs to the IDs they have in the database,
	// whether freshly inserted or matched to an existing chat.
	IDMap map[core.ID]core.ID
}

// ChatImporter inserts chats from another database.
type ChatImporter interface {
	// ImportChats inserts every chat whose (title, timestamp in
	// milliseconds) is not yet stored, then rewrites ContinuedFrom of the
	// inserted chats through the resulting ID map, dropping references to
	// chats it cannot map. It is one transaction: any error leaves the
	// database unchanged.
	ImportChats(ctx context.Context, chats []*ImportChat) (*ImportResult, error)
}

// ChatExporter reads chats in their persisted form, with blob hashes left in
// place.
type ChatExporter interface {
	ForEachStoredChat(ctx context.Context, fn func(chat *core.Chat, messages []*core.Message) error) error
}

// BlobStore provides direct access to the blob store.
type BlobStore interface {
	// GetBlob returns the blob for hash, or nil if absent.
	GetBlob(ctx context.Context, hash string) (*core.Blob, error)

	// ScanBlobHashes returns up to limit hashes strictly after the given hash,
	// in order. An empty after starts at the beginning.
	ScanBlobHashes(ctx context.Context, after string, limit int) ([]string, error)

	// ReplaceBlobData rewrites the data of an existing blob, keeping its hash
	// and owners.
	ReplaceBlobData(ctx context.Context, hash, data string) error

	// ReconcileBlobs drops owners that no longer reference a blob and deletes
	// blobs left without owners.
	ReconcileBlobs(ctx context.Context) (ReconcileResult, error)
}

// ReconcileResult reports what ReconcileBlobs changed.
type ReconcileResult struct {
	Scanned       int
	OwnersRemoved int
	BlobsDeleted  int
}

// InlineImageSweeper supports the background conversion of inline image data
// to blob references.
type InlineImageSweeper interface {
	// ScanMessageKeys returns up to limit message keys strictly after the
	// given key, in key order. A nil after starts at the beginning.
	ScanMessageKeys(ctx context.Context, after *MessageKey, limit int) ([]MessageKey, error)

	// ConvertInlineImages converts inline images of the given messages to
	// blob references in one transaction and returns how many messages changed.
	ConvertInlineImages(ctx context.Context, keys []MessageKey) (int, error)
}

// Checkpoint records how far a resumable background pass has progressed.
type Checkpoint struct {
	Name      string
	After     *MessageKey // last key processed, nil before the first batch
	Done      bool
	UpdatedAt time.Time
}

// CheckpointStore persists checkpoints of background passes.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint returns the named checkpoint, or nil if none was saved.
	LoadCheckpoint(ctx context.Context, name string) (*Checkpoint, error)

	// ClearCheckpoint removes the named checkpoint.
	ClearCheckpoint(ctx context.Context, name string) error
}

// SearchIndex provides access to the derived search documents.
type SearchIndex interface {
	GetSearchDoc(ctx context.Context, chatID core.ID) (*core.SearchDoc, error)

	// RecomputeSearch rebuilds one chat's search document.
	RecomputeSearch(ctx context.Context, chatID core.ID) error

	// RebuildSearch recomputes every chat's search document and returns the
	// number of documents written.
	RebuildSearch(ctx context.Context) (int, error)

	// ForEachSearchDoc visits every document until fn returns false.
	ForEachSearchDoc(ctx context.Context, fn func(*core.SearchDoc) bool) error
}

// MediaIndex provides access to the derived media index.
type MediaIndex interface {
	// ListMedia returns entries newest first, skipping offset entries.
	ListMedia(ctx context.Context, offset, limit int) ([]*core.MediaEntry, error)

	// GetMediaEntry returns one entry, or nil if absent.
	GetMediaEntry(ctx context.Context, id core.ID) (*core.MediaEntry, error)

	// GetMediaImage re-locates the entry's image in its message and returns
	// the literal image data. It returns "" if the entry or image is gone.
	GetMediaImage(ctx context.Context, id core.ID) (string, error)

	// SetThumbnail patches an entry with its thumbnail. A missing entry is
	// not an error.
	SetThumbnail(ctx context.Context, id core.ID, thumbnail string, width, height int) error

	// MissingThumbnails returns up to limit IDs of entries without a thumbnail.
	MissingThumbnails(ctx context.Context, limit int) ([]core.ID, error)

	// RebuildMedia clears and rebuilds the whole media index and returns the
	// number of entries written.
	RebuildMedia(ctx context.Context) (int, error)
}

// ThumbnailScheduler receives media entries that need thumbnails. Schedule
// must not block on thumbnail generation.
type ThumbnailScheduler interface {
	Schedule(ids ...core.ID)
}

// Stats summarizes the contents of a database.
type Stats struct {
	SchemaVersion int
	Chats         int
	Messages      int
	Blobs         int
	SearchDocs    int
	MediaEntries  int
	Thumbnails    int
}
