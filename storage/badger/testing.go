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

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

// Repositories groups the repositories of one backend.
type Repositories struct {
	Backend *Backend
	Chats   *ChatRepository
	Blobs   *BlobRepository
	Search  *SearchRepository
	Media   *MediaRepository
}

// Close closes the backend.
func (r *Repositories) Close() error {
	return r.Backend.Close()
}

// NewMemoryBackend opens an in-memory backend migrated to SchemaVersion.
func NewMemoryBackend(opts ...BackendOption) (*Backend, error) {
	backend, err := OpenBackend("", true, opts...)
	if err != nil {
		return nil, err
	}
	if _, _, err := NewMigrator(backend).Run(context.Background()); err != nil {
		backend.Close()
		return nil, err
	}
	return backend, nil
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must Close the result when done.
func NewMemoryRepositories(chatOpts ...ChatOption) (*Repositories, error) {
	backend, err := NewMemoryBackend()
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Backend: backend,
		Chats:   NewChatRepository(backend, chatOpts...),
		Blobs:   NewBlobRepository(backend),
		Search:  NewSearchRepository(backend),
		Media:   NewMediaRepository(backend),
	}, nil
}

// PutStoredMessage writes msg exactly as given, without blob substitution or
// index maintenance. Tests use it to seed records in the shape older
// versions wrote.
func (r *Repositories) PutStoredMessage(ctx context.Context, msg *core.Message) error {
	return r.Backend.RunTransaction(ctx, []storage.StoreName{storage.StoreMessages}, storage.ReadWrite, func(tx *Tx) error {
		messages, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return err
		}
		return putMessage(messages, msg)
	})
}
