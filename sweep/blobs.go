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
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/chatvault/storage"
)

// BlobSweepCheckpoint names the checkpoint of the inline image sweep.
const BlobSweepCheckpoint = "inline-image-sweep"

// Config holds the batching and retry settings of a sweep.
type Config struct {
	// BatchSize is the number of records handled per transaction
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for one batch
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

func (c *Config) normalize() *Config {
	out := *DefaultConfig()
	if c == nil {
		return &out
	}
	if c.BatchSize > 0 {
		out.BatchSize = c.BatchSize
	}
	if c.ReportInterval > 0 {
		out.ReportInterval = c.ReportInterval
	}
	if c.MaxRetries > 0 {
		out.MaxRetries = c.MaxRetries
	}
	if c.RetryDelay > 0 {
		out.RetryDelay = c.RetryDelay
	}
	return &out
}

// MigrationResult reports what a BlobMigrator run did.
type MigrationResult struct {
	// Skipped is set when the sweep had already completed.
	Skipped       bool
	Scanned       int
	Converted     int
	Batches       int
	FailedBatches int
	Elapsed       time.Duration
}

type options struct {
	checkpoints storage.CheckpointStore
	config      *Config
	progress    io.Writer
	total       int
	logger      *slog.Logger
}

// Option configures a BlobMigrator or a Maintainer.
type Option func(*options)

// WithCheckpoints makes the inline image sweep resumable through store.
func WithCheckpoints(store storage.CheckpointStore) Option {
	return func(o *options) {
		o.checkpoints = store
	}
}

// WithConfig sets batching and retry settings. Zero fields keep their defaults.
func WithConfig(config *Config) Option {
	return func(o *options) {
		o.config = config.normalize()
	}
}

// WithProgress reports progress to w, out of total records.
func WithProgress(w io.Writer, total int) Option {
	return func(o *options) {
		o.progress = w
		o.total = total
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
	o := options{config: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) tracker(unit string) *ProgressTracker {
	if o.progress == nil {
		return nil
	}
	t := NewProgressTracker(o.progress, o.total, o.config.ReportInterval, unit)
	t.Start()
	return t
}

// BlobMigrator converts inline image data left in message records into blob
// references.
type BlobMigrator struct {
	options
	sweeper storage.InlineImageSweeper
	state   *State
}

// NewBlobMigrator creates a sweep over sweeper whose lifecycle is tracked
// in state.
func NewBlobMigrator(sweeper storage.InlineImageSweeper, state *State, opts ...Option) (*BlobMigrator, error) {
	if sweeper == nil {
		return nil, ErrSweeperRequired
	}
	if state == nil {
		return nil, ErrStateRequired
	}
	return &BlobMigrator{
		options: applyOptions(opts),
		sweeper: sweeper,
		state:   state,
	}, nil
}

// State returns the lifecycle state of the sweep.
func (m *BlobMigrator) State() *State {
	return m.state
}

// Run sweeps the message store from the last checkpoint to the end.
// A sweep that already finished is skipped. A batch that still fails after
// its retries is logged and skipped; the sweep then ends without a Done
// checkpoint so the next run starts over. Cancellation stops between
// batches and leaves the checkpoint for the next run.
func (m *BlobMigrator) Run(ctx context.Context) (MigrationResult, error) {
	var result MigrationResult
	if !m.state.TryStart() {
		if m.state.Phase() == Done {
			result.Skipped = true
			return result, nil
		}
		return result, ErrAlreadyRunning
	}

	start := time.Now()
	result, err := m.run(ctx)
	result.Elapsed = time.Since(start)
	if err != nil {
		m.state.Abort()
		return result, err
	}
	m.state.Finish()
	return result, nil
}

func (m *BlobMigrator) run(ctx context.Context) (MigrationResult, error) {
	var result MigrationResult

	cp, err := m.loadCheckpoint(ctx)
	if err != nil {
		return result, err
	}
	if cp.Done {
		m.logger.Debug("inline image sweep already complete")
		result.Skipped = true
		return result, nil
	}
	if cp.After != nil {
		m.logger.Info("resuming inline image sweep", "chatID", cp.After.ChatID, "messageID", cp.After.MessageID)
	}

	tracker := m.tracker("messages")

	after := cp.After
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var keys []storage.MessageKey
		err := RetryWithBackoff(ctx, func(ctx context.Context) error {
			var scanErr error
			keys, scanErr = m.sweeper.ScanMessageKeys(ctx, after, m.config.BatchSize)
			return scanErr
		}, m.config.MaxRetries, m.config.RetryDelay)
		if err != nil {
			return result, fmt.Errorf("scan message keys: %w", err)
		}
		if len(keys) == 0 {
			break
		}

		result.Batches++
		result.Scanned += len(keys)
		var converted int
		err = RetryWithBackoff(ctx, func(ctx context.Context) error {
			var convErr error
			converted, convErr = m.sweeper.ConvertInlineImages(ctx, keys)
			return convErr
		}, m.config.MaxRetries, m.config.RetryDelay)
		switch {
		case ctx.Err() != nil:
			return result, ctx.Err()
		case err != nil:
			result.FailedBatches++
			m.logger.Error("inline image sweep batch failed",
				"first", keys[0], "last", keys[len(keys)-1], "err", err)
		default:
			result.Converted += converted
		}

		last := keys[len(keys)-1]
		after = &last
		if tracker != nil {
			tracker.Increment(len(keys))
		}
		if result.FailedBatches == 0 {
			m.saveCheckpoint(ctx, &storage.Checkpoint{Name: BlobSweepCheckpoint, After: after})
		}

		if len(keys) < m.config.BatchSize {
			break
		}
	}

	if tracker != nil {
		tracker.Finish()
	}
	if result.FailedBatches == 0 {
		m.saveCheckpoint(ctx, &storage.Checkpoint{Name: BlobSweepCheckpoint, After: after, Done: true})
	} else if m.checkpoints != nil {
		if err := m.checkpoints.ClearCheckpoint(ctx, BlobSweepCheckpoint); err != nil {
			m.logger.Warn("failed to clear sweep checkpoint", "err", err)
		}
	}

	m.logger.Info("inline image sweep finished",
		"scanned", result.Scanned, "converted", result.Converted,
		"batches", result.Batches, "failedBatches", result.FailedBatches)
	return result, nil
}

func (m *BlobMigrator) loadCheckpoint(ctx context.Context) (*storage.Checkpoint, error) {
	if m.checkpoints == nil {
		return &storage.Checkpoint{Name: BlobSweepCheckpoint}, nil
	}
	cp, err := m.checkpoints.LoadCheckpoint(ctx, BlobSweepCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("load sweep checkpoint: %w", err)
	}
	if cp == nil {
		cp = &storage.Checkpoint{Name: BlobSweepCheckpoint}
	}
	return cp, nil
}

// saveCheckpoint records progress. A failed save only costs rework on the
// next run, so it is logged and not returned.
func (m *BlobMigrator) saveCheckpoint(ctx context.Context, cp *storage.Checkpoint) {
	if m.checkpoints == nil {
		return
	}
	if err := m.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		m.logger.Warn("failed to save sweep checkpoint", "err", err)
	}
}

// Restart clears the stored checkpoint and resets the state so the next
// Run sweeps the whole store again.
func (m *BlobMigrator) Restart(ctx context.Context) error {
	if m.state.Phase() == Running {
		return ErrAlreadyRunning
	}
	if m.checkpoints != nil {
		if err := m.checkpoints.ClearCheckpoint(ctx, BlobSweepCheckpoint); err != nil {
			return err
		}
	}
	m.state.Reset()
	return nil
}
