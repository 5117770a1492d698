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


package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/chatvault/imagerepair"
	"github.com/poiesic/chatvault/storage"
)

// RepairResult reports what RepairBlobs found and changed.
type RepairResult struct {
	Scanned  int
	Damaged  int
	Repaired int
	Failed   int
	Elapsed  time.Duration
}

// Maintainer runs whole-store maintenance passes over the blob store.
type Maintainer struct {
	options
	blobs storage.BlobStore
}

// NewMaintainer creates a Maintainer for blobs.
func NewMaintainer(blobs storage.BlobStore, opts ...Option) (*Maintainer, error) {
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	return &Maintainer{options: applyOptions(opts), blobs: blobs}, nil
}

// RepairBlobs runs imagerepair over every stored blob and rewrites repaired
// data under the original hash, so messages keep referencing it. With
// dryRun set nothing is written. A blob that cannot be written is logged and
// counted in Failed.
func (m *Maintainer) RepairBlobs(ctx context.Context, dryRun bool) (RepairResult, error) {
	var result RepairResult
	start := time.Now()
	tracker := m.tracker("blobs")

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		hashes, err := m.blobs.ScanBlobHashes(ctx, after, m.config.BatchSize)
		if err != nil {
			return result, fmt.Errorf("scan blobs: %w", err)
		}
		if len(hashes) == 0 {
			break
		}

		for _, hash := range hashes {
			result.Scanned++
			blob, err := m.blobs.GetBlob(ctx, hash)
			if err != nil {
				return result, fmt.Errorf("read blob %s: %w", hash, err)
			}
			if blob == nil {
				continue
			}
			repaired, changed := imagerepair.RepairDataURL(blob.Data)
			if !changed {
				continue
			}
			result.Damaged++
			if dryRun {
				m.logger.Info("blob needs repair", "hash", hash, "before", len(blob.Data), "after", len(repaired))
				continue
			}
			err = RetryWithBackoff(ctx, func(ctx context.Context) error {
				return m.blobs.ReplaceBlobData(ctx, hash, repaired)
			}, m.config.MaxRetries, m.config.RetryDelay)
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Failed++
				m.logger.Error("blob repair failed", "hash", hash, "err", err)
				continue
			}
			result.Repaired++
			m.logger.Debug("blob repaired", "hash", hash, "before", len(blob.Data), "after", len(repaired))
		}

		if tracker != nil {
			tracker.Increment(len(hashes))
		}
		after = hashes[len(hashes)-1]
		if len(hashes) < m.config.BatchSize {
			break
		}
	}

	if tracker != nil {
		tracker.Finish()
	}
	result.Elapsed = time.Since(start)
	m.logger.Info("blob repair finished",
		"scanned", result.Scanned, "damaged", result.Damaged,
		"repaired", result.Repaired, "failed", result.Failed, "dryRun", dryRun)
	return result, nil
}

// ReconcileBlobs drops stale blob owners and deletes unowned blobs, retrying
// the pass on failure.
func (m *Maintainer) ReconcileBlobs(ctx context.Context) (storage.ReconcileResult, error) {
	var result storage.ReconcileResult
	err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		result, err = m.blobs.ReconcileBlobs(ctx)
		return err
	}, m.config.MaxRetries, m.config.RetryDelay)
	if err != nil {
		return result, fmt.Errorf("reconcile blobs: %w", err)
	}
	m.logger.Info("blob reconciliation finished",
		"scanned", result.Scanned, "ownersRemoved", result.OwnersRemoved, "blobsDeleted", result.BlobsDeleted)
	return result, nil
}
