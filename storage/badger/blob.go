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

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

// BlobBatch stages blobs for one write, deduplicated by hash.
type BlobBatch struct {
	entries map[string]*core.Blob
	order   []string
}

// NewBlobBatch creates an empty batch.
func NewBlobBatch() *BlobBatch {
	return &BlobBatch{entries: make(map[string]*core.Blob)}
}

// Register stages data under hash. Registering the same hash again unions the
// owner sets and keeps the first data. A zero owner is ignored.
func (bb *BlobBatch) Register(hash, data string, owner core.ID) {
	if entry, ok := bb.entries[hash]; ok {
		entry.Owners.Add(owner)
		if entry.Data == "" {
			entry.Data = data
		}
		return
	}
	bb.entries[hash] = &core.Blob{Hash: hash, Data: data, Owners: core.NewOwnerSet(owner)}
	bb.order = append(bb.order, hash)
}

// Substitute replaces every inline image of msg with its hash and stages the
// inline data. Values that are already hashes stay in place and are staged
// without data, so owner joins the owner set of the stored blob. It reports
// whether anything was replaced.
func (bb *BlobBatch) Substitute(msg *core.Message, owner core.ID) bool {
	changed := false
	msg.RewriteImages(func(img string) string {
		if core.IsBlobHash(img) {
			bb.Register(img, "", owner)
			return img
		}
		if !core.IsInlineData(img) {
			return img
		}
		hash := core.BlobHash(img)
		bb.Register(hash, img, owner)
		changed = true
		return hash
	})
	return changed
}

// Len returns the number of staged blobs.
func (bb *BlobBatch) Len() int {
	return len(bb.order)
}

// Entries returns the staged blobs in registration order.
func (bb *BlobBatch) Entries() []*core.Blob {
	out := make([]*core.Blob, len(bb.order))
	for i, hash := range bb.order {
		out[i] = bb.entries[hash]
	}
	return out
}

// persistBlobs merges the staged blobs into the blob store. Existing blobs
// gain the staged owners and keep their data unless it is empty. owner, when
// non-zero, is added to every staged blob. A staged reference without data
// whose blob is not stored is skipped; it reads back as a broken image.
func persistBlobs(tx *Tx, batch *BlobBatch, owner core.ID) error {
	if batch.Len() == 0 {
		return nil
	}
	blobs, err := tx.Bucket(storage.StoreBlobs)
	if err != nil {
		return err
	}
	for _, staged := range batch.Entries() {
		staged.Owners.Add(owner)

		existing, err := readBlob(blobs, staged.Hash)
		if err != nil {
			return err
		}
		if existing == nil && staged.Data == "" {
			continue
		}
		merged := staged
		if existing != nil {
			existing.Owners.Union(staged.Owners)
			if existing.Data == "" {
				existing.Data = staged.Data
			}
			merged = existing
		}
		// An empty owner set must never be stored.
		if merged.Owners.Empty() {
			continue
		}
		if err := writeBlob(blobs, merged); err != nil {
			return err
		}
	}
	return nil
}

// blobResolver turns blob hashes back into inline data, caching lookups for
// the life of one read.
type blobResolver struct {
	blobs *Bucket
	cache map[string]string
}

func newBlobResolver(tx *Tx) (*blobResolver, error) {
	blobs, err := tx.Bucket(storage.StoreBlobs)
	if err != nil {
		return nil, err
	}
	return &blobResolver{blobs: blobs, cache: make(map[string]string)}, nil
}

// resolve returns the inline data for a hash. Inline values pass through
// unchanged. A hash without a blob resolves to itself.
func (r *blobResolver) resolve(ref string) (string, error) {
	if ref == "" || core.IsInlineData(ref) {
		return ref, nil
	}
	if data, ok := r.cache[ref]; ok {
		return data, nil
	}
	blob, err := readBlob(r.blobs, ref)
	if err != nil {
		return "", err
	}
	data := ref
	if blob != nil && blob.Data != "" {
		data = blob.Data
	}
	r.cache[ref] = data
	return data, nil
}

// resolveMessage replaces every hash in msg with its inline data.
func (r *blobResolver) resolveMessage(msg *core.Message) error {
	var firstErr error
	msg.RewriteImages(func(img string) string {
		if firstErr != nil {
			return img
		}
		data, err := r.resolve(img)
		if err != nil {
			firstErr = err
			return img
		}
		return data
	})
	return firstErr
}

// releaseChat removes chatID from the owner set of every blob its messages
// reference, deleting blobs whose owner set becomes empty.
func releaseChat(tx *Tx, chatID core.ID) error {
	messages, err := tx.Bucket(storage.StoreMessages)
	if err != nil {
		return err
	}
	hashes := make(map[string]struct{})
	for kv, err := range messages.Scan(makeMessagePrefix(chatID)) {
		if err != nil {
			return err
		}
		msg, err := storage.UnmarshalMessage(kv.Value)
		if err != nil {
			return err
		}
		for _, img := range msg.AllImages() {
			if core.IsBlobHash(img) {
				hashes[img] = struct{}{}
			}
		}
	}
	return releaseHashes(tx, chatID, hashes)
}

// releaseReplaced drops chatID from blobs that the replaced version of a
// message referenced and that no message of the chat references anymore.
func releaseReplaced(tx *Tx, old, replacement *core.Message) error {
	candidates := make(map[string]struct{})
	for _, img := range old.AllImages() {
		if core.IsBlobHash(img) {
			candidates[img] = struct{}{}
		}
	}
	for _, img := range replacement.AllImages() {
		delete(candidates, img)
	}
	if len(candidates) == 0 {
		return nil
	}

	messages, err := tx.Bucket(storage.StoreMessages)
	if err != nil {
		return err
	}
	for kv, err := range messages.Scan(makeMessagePrefix(old.ChatID)) {
		if err != nil {
			return err
		}
		if key, ok := parseMessageKey(kv.Key); ok && key.MessageID == old.MessageID {
			continue
		}
		msg, err := storage.UnmarshalMessage(kv.Value)
		if err != nil {
			return err
		}
		for _, img := range msg.AllImages() {
			delete(candidates, img)
		}
		if len(candidates) == 0 {
			return nil
		}
	}
	return releaseHashes(tx, old.ChatID, candidates)
}

func releaseHashes(tx *Tx, chatID core.ID, hashes map[string]struct{}) error {
	blobs, err := tx.Bucket(storage.StoreBlobs)
	if err != nil {
		return err
	}
	for hash := range hashes {
		blob, err := readBlob(blobs, hash)
		if err != nil {
			return err
		}
		if blob == nil || !blob.Owners.Remove(chatID) {
			continue
		}
		if blob.Owners.Empty() {
			if err := blobs.Delete(makeBlobKey(hash)); err != nil {
				return err
			}
			continue
		}
		if err := writeBlob(blobs, blob); err != nil {
			return err
		}
	}
	return nil
}

func readBlob(blobs *Bucket, hash string) (*core.Blob, error) {
	data, err := blobs.Get(makeBlobKey(hash))
	if err != nil || data == nil {
		return nil, err
	}
	return storage.UnmarshalBlob(data)
}

func writeBlob(blobs *Bucket, blob *core.Blob) error {
	data, err := storage.MarshalBlob(blob)
	if err != nil {
		return err
	}
	return blobs.Put(makeBlobKey(blob.Hash), data)
}

// BlobRepository implements storage.BlobStore for BadgerDB.
type BlobRepository struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.BlobStore = (*BlobRepository)(nil)

// NewBlobRepository creates a new BlobRepository.
func NewBlobRepository(backend *Backend) *BlobRepository {
	return &BlobRepository{backend: backend, logger: backend.logger}
}

// GetBlob returns the blob for hash, or nil if absent.
func (r *BlobRepository) GetBlob(ctx context.Context, hash string) (*core.Blob, error) {
	return View(ctx, r.backend, []storage.StoreName{storage.StoreBlobs}, func(tx *Tx) (*core.Blob, error) {
		blobs, err := tx.Bucket(storage.StoreBlobs)
		if err != nil {
			return nil, err
		}
		return readBlob(blobs, hash)
	})
}

// ScanBlobHashes returns up to limit hashes strictly after the given hash.
func (r *BlobRepository) ScanBlobHashes(ctx context.Context, after string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	return View(ctx, r.backend, []storage.StoreName{storage.StoreBlobs}, func(tx *Tx) ([]string, error) {
		blobs, err := tx.Bucket(storage.StoreBlobs)
		if err != nil {
			return nil, err
		}
		c := blobs.Cursor(nil)
		defer c.Close()
		if after != "" {
			c.Seek(makeBlobKey(after))
		}
		var hashes []string
		for len(hashes) < limit && c.Next() {
			hash := string(c.Key())
			if hash == after {
				continue
			}
			hashes = append(hashes, hash)
		}
		return hashes, nil
	})
}

// ReplaceBlobData rewrites the data of an existing blob. A missing blob
// returns storage.ErrNotFound.
func (r *BlobRepository) ReplaceBlobData(ctx context.Context, hash, data string) error {
	return r.backend.RunTransaction(ctx, []storage.StoreName{storage.StoreBlobs}, storage.ReadWrite, func(tx *Tx) error {
		blobs, err := tx.Bucket(storage.StoreBlobs)
		if err != nil {
			return err
		}
		blob, err := readBlob(blobs, hash)
		if err != nil {
			return err
		}
		if blob == nil {
			return storage.ErrNotFound
		}
		blob.Data = data
		return writeBlob(blobs, blob)
	})
}

// ReconcileBlobs recomputes owner sets from the messages that actually
// reference each blob.
func (r *BlobRepository) ReconcileBlobs(ctx context.Context) (storage.ReconcileResult, error) {
	var result storage.ReconcileResult
	stores := []storage.StoreName{storage.StoreMessages, storage.StoreBlobs}
	err := r.backend.RunTransaction(ctx, stores, storage.ReadWrite, func(tx *Tx) error {
		messages, err := tx.Bucket(storage.StoreMessages)
		if err != nil {
			return err
		}
		blobs, err := tx.Bucket(storage.StoreBlobs)
		if err != nil {
			return err
		}

		refs := make(map[string]core.OwnerSet)
		for kv, err := range messages.Scan(nil) {
			if err != nil {
				return err
			}
			msg, err := storage.UnmarshalMessage(kv.Value)
			if err != nil {
				return err
			}
			for _, img := range msg.AllImages() {
				if core.IsBlobHash(img) {
					owners := refs[img]
					owners.Add(msg.ChatID)
					refs[img] = owners
				}
			}
		}

		var stored []*core.Blob
		for kv, err := range blobs.Scan(nil) {
			if err != nil {
				return err
			}
			blob, err := storage.UnmarshalBlob(kv.Value)
			if err != nil {
				return err
			}
			stored = append(stored, blob)
		}

		for _, blob := range stored {
			result.Scanned++
			live := refs[blob.Hash]
			var kept core.OwnerSet
			for _, owner := range blob.Owners {
				if live.Has(owner) {
					kept.Add(owner)
				} else {
					result.OwnersRemoved++
				}
			}
			if kept.Empty() {
				result.BlobsDeleted++
				if err := blobs.Delete(makeBlobKey(blob.Hash)); err != nil {
					return err
				}
				continue
			}
			if len(kept) != len(blob.Owners) {
				blob.Owners = kept
				if err := writeBlob(blobs, blob); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return storage.ReconcileResult{}, err
	}
	r.logger.Info("reconciled blobs", "scanned", result.Scanned,
		"ownersRemoved", result.OwnersRemoved, "blobsDeleted", result.BlobsDeleted)
	return result, nil
}
