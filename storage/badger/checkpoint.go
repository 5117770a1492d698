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
	"time"

	"github.com/poiesic/chatvault/storage"
)

// CheckpointRepository implements storage.CheckpointStore for BadgerDB.
// Checkpoints live in the meta store.
type CheckpointRepository struct {
	backend *Backend
}

var _ storage.CheckpointStore = (*CheckpointRepository)(nil)

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(backend *Backend) *CheckpointRepository {
	return &CheckpointRepository{
		backend: backend,
	}
}

// SaveCheckpoint persists a checkpoint under its name.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *storage.Checkpoint) error {
	return r.backend.RunTransaction(ctx, []storage.StoreName{storage.StoreMeta}, storage.ReadWrite, func(tx *Tx) error {
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return err
		}
		checkpoint.UpdatedAt = time.Now().UTC()
		value, err := storage.MarshalCheckpoint(checkpoint)
		if err != nil {
			return err
		}
		return meta.Put(makeCheckpointKey(checkpoint.Name), value)
	})
}

// LoadCheckpoint retrieves the named checkpoint.
// Returns nil, nil if no checkpoint exists.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, name string) (*storage.Checkpoint, error) {
	return View(ctx, r.backend, []storage.StoreName{storage.StoreMeta}, func(tx *Tx) (*storage.Checkpoint, error) {
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return nil, err
		}
		value, err := meta.Get(makeCheckpointKey(name))
		if err != nil || value == nil {
			return nil, err
		}
		return storage.UnmarshalCheckpoint(value)
	})
}

// ClearCheckpoint removes the named checkpoint.
func (r *CheckpointRepository) ClearCheckpoint(ctx context.Context, name string) error {
	return r.backend.RunTransaction(ctx, []storage.StoreName{storage.StoreMeta}, storage.ReadWrite, func(tx *Tx) error {
		meta, err := tx.Bucket(storage.StoreMeta)
		if err != nil {
			return err
		}
		return meta.Delete(makeCheckpointKey(name))
	})
}
