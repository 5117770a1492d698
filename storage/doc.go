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


// Package storage provides the storage abstraction layer for chatvault.
//
// This package defines the repository interfaces, the names of the logical
// stores, the persisted record shapes and the event notifications. The
// BadgerDB implementation lives in storage/badger.
//
// # Logical stores
//
// A database holds several logical stores that a single transaction may span:
//
//   - chats, chat_times: chat metadata and its newest-first index
//   - messages: message records keyed by (chatId, messageId)
//   - blobs: content-addressed image data with owner sets
//   - search: one normalized text document per chat
//   - media, media_by_message: the flat media index and its per-message lookup
//   - meta: schema version
//
// # Records
//
// Records are JSON. Message payload variants are flattened into one record
// and selected by its type field. Records written before branching messages
// existed are still readable; see MessageRecord.IsLegacy.
//
// # Atomicity
//
// Every composite mutation (create, append, update, rename, delete, import)
// runs as one transaction over all stores it touches. No partial state is
// ever visible.
//
// # Events
//
// Mutations emit an Event to the configured Notifier after commit. Delivery
// is best-effort.
package storage
