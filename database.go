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


package chatvault

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/chatvault/archive"
	"github.com/poiesic/chatvault/config"
	"github.com/poiesic/chatvault/search"
	"github.com/poiesic/chatvault/storage"
	"github.com/poiesic/chatvault/storage/badger"
	"github.com/poiesic/chatvault/sweep"
	"github.com/poiesic/chatvault/thumbnail"
	"golang.org/x/sync/errgroup"
)

// ErrThumbnailsDisabled is returned by thumbnail operations on a database
// opened with thumbnails turned off.
var ErrThumbnailsDisabled = errors.New("thumbnails are disabled")

// Database is an open chat store with its derived indexes and background
// maintenance.
type Database struct {
	backend     *badger.Backend
	chats       *badger.ChatRepository
	blobs       *badger.BlobRepository
	searchIndex *badger.SearchRepository
	media       *badger.MediaRepository
	checkpoints *badger.CheckpointRepository
	bus         *storage.Bus
	thumbnails  *thumbnail.Pipeline // nil when thumbnails are disabled
	sweepState  *sweep.State
	config      config.Config
	logger      *slog.Logger

	background *ants.Pool
	pending    sync.WaitGroup
	cancel     context.CancelFunc
	closeOnce  sync.Once
	closeErr   error
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	config      *config.Config
	logger      *slog.Logger
	sweepState  *sweep.State
	subscribers []func(storage.Event)
}

// WithConfig sets the database configuration.
// Default is config.DefaultConfig().
func WithConfig(cfg *config.Config) DatabaseOption {
	return func(o *databaseOptions) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSweepState sets the lifecycle state of the inline image sweep, so
// callers can observe or reset it. Default is a fresh state.
func WithSweepState(state *sweep.State) DatabaseOption {
	return func(o *databaseOptions) {
		o.sweepState = state
	}
}

// WithSubscriber registers fn for chat events before the database starts
// any work.
func WithSubscriber(fn func(storage.Event)) DatabaseOption {
	return func(o *databaseOptions) {
		if fn != nil {
			o.subscribers = append(o.subscribers, fn)
		}
	}
}

// NewDatabase opens the database at filePath, migrating it to the current
// schema. A non-empty filePath overrides the configured path. The inline
// image sweep and the thumbnail backfill start in the background once the
// database is open.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	// Apply options
	options := &databaseOptions{
		config: config.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	cfg := *options.config
	if filePath != "" {
		cfg.Path = filePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := options.logger

	// Open backend
	backend, err := badger.OpenBackend(cfg.Path, cfg.InMemory, badger.WithBackendLogger(logger))
	if err != nil {
		return nil, err
	}

	from, to, err := badger.NewMigrator(backend).Run(context.Background())
	if err != nil {
		backend.Close()
		return nil, err
	}
	if from != to {
		logger.Info("database migrated", "from", from, "to", to)
	}

	bus := storage.NewBus(logger)
	for _, fn := range options.subscribers {
		bus.Subscribe(fn)
	}

	db := &Database{
		backend:     backend,
		blobs:       badger.NewBlobRepository(backend),
		searchIndex: badger.NewSearchRepository(backend),
		media:       badger.NewMediaRepository(backend),
		checkpoints: badger.NewCheckpointRepository(backend),
		bus:         bus,
		sweepState:  options.sweepState,
		config:      cfg,
		logger:      logger,
	}
	if db.sweepState == nil {
		db.sweepState = sweep.NewState()
	}

	chatOpts := []badger.ChatOption{badger.WithNotifier(bus), badger.WithLogger(logger)}
	if cfg.Thumbnails.Enabled {
		pipelineOpts := []thumbnail.Option{
			thumbnail.WithShortEdge(cfg.Thumbnails.ShortEdge),
			thumbnail.WithQuality(cfg.Thumbnails.Quality),
			thumbnail.WithLogger(logger),
		}
		if cfg.Thumbnails.Workers > 0 {
			pipelineOpts = append(pipelineOpts, thumbnail.WithPoolSize(cfg.Thumbnails.Workers))
		}
		db.thumbnails, err = thumbnail.NewPipeline(db.media, pipelineOpts...)
		if err != nil {
			backend.Close()
			return nil, err
		}
		chatOpts = append(chatOpts, badger.WithThumbnailScheduler(db.thumbnails))
	}
	db.chats = badger.NewChatRepository(backend, chatOpts...)

	db.background, err = ants.NewPool(1)
	if err != nil {
		db.releaseThumbnails()
		backend.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	db.cancel = cancel
	db.startBackground(ctx)
	return db, nil
}

// startBackground runs the inline image sweep and then the thumbnail
// backfill on the background pool. Neither holds up NewDatabase.
func (db *Database) startBackground(ctx context.Context) {
	if !db.config.Sweep.Background && db.thumbnails == nil {
		return
	}
	db.pending.Add(1)
	err := db.background.Submit(func() {
		defer db.pending.Done()
		if db.config.Sweep.Background {
			db.runSweep(ctx)
		}
		if db.thumbnails != nil && ctx.Err() == nil {
			if _, err := db.thumbnails.Backfill(ctx, 0); err != nil {
				db.logger.Warn("thumbnail backfill failed", "err", err)
			}
		}
	})
	if err != nil {
		db.pending.Done()
		db.logger.Warn("could not start background maintenance", "err", err)
	}
}

func (db *Database) runSweep(ctx context.Context) {
	migrator, err := db.NewBlobMigrator()
	if err != nil {
		db.logger.Warn("could not create inline image sweep", "err", err)
		return
	}
	result, err := migrator.Run(ctx)
	switch {
	case err != nil:
		db.logger.Warn("inline image sweep stopped", "err", err, "converted", result.Converted)
	case result.Skipped:
		db.logger.Debug("inline image sweep already done")
	default:
		db.logger.Info("inline image sweep finished",
			"scanned", result.Scanned,
			"converted", result.Converted,
			"failedBatches", result.FailedBatches,
			"elapsed", result.Elapsed)
	}
}

// WaitBackground blocks until background maintenance and every scheduled
// thumbnail have finished.
func (db *Database) WaitBackground() {
	db.pending.Wait()
	if db.thumbnails != nil {
		db.thumbnails.Wait()
	}
}

// Close stops background work, waits for it and closes the store. It is
// safe to call more than once.
func (db *Database) Close() error {
	db.closeOnce.Do(func() {
		db.cancel()
		db.pending.Wait()
		db.background.Release()
		db.releaseThumbnails()

		// Close backend
		if err := db.backend.Close(); err != nil {
			db.logger.Error("error closing backend storage", "err", err)
			db.closeErr = err
		}
	})
	return db.closeErr
}

func (db *Database) releaseThumbnails() {
	if db.thumbnails != nil {
		db.thumbnails.Release()
	}
}

func (db *Database) ChatStore() storage.ChatStore {
	return db.chats
}

func (db *Database) BlobStore() storage.BlobStore {
	return db.blobs
}

func (db *Database) SearchIndex() storage.SearchIndex {
	return db.searchIndex
}

func (db *Database) MediaIndex() storage.MediaIndex {
	return db.media
}

func (db *Database) CheckpointStore() storage.CheckpointStore {
	return db.checkpoints
}

// Events returns the bus chat events are published on.
func (db *Database) Events() *storage.Bus {
	return db.bus
}

// SweepState returns the lifecycle state of the inline image sweep.
func (db *Database) SweepState() *sweep.State {
	return db.sweepState
}

// Config returns a copy of the configuration the database was opened with.
func (db *Database) Config() config.Config {
	return db.config
}

// Stats counts the records of every store.
func (db *Database) Stats(ctx context.Context) (storage.Stats, error) {
	return db.backend.Stats(ctx)
}

func (db *Database) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	return search.NewSearcher(db.searchIndex, append([]search.Option{search.WithLogger(db.logger)}, opts...)...)
}

// NewBlobMigrator returns an inline image sweep sharing the database's
// sweep state and checkpoint store.
func (db *Database) NewBlobMigrator(opts ...sweep.Option) (*sweep.BlobMigrator, error) {
	return sweep.NewBlobMigrator(db.chats, db.sweepState, append(db.sweepOptions(), opts...)...)
}

// NewMaintainer returns the blob repair and reconcile passes.
func (db *Database) NewMaintainer(opts ...sweep.Option) (*sweep.Maintainer, error) {
	return sweep.NewMaintainer(db.blobs, append(db.sweepOptions(), opts...)...)
}

func (db *Database) sweepOptions() []sweep.Option {
	return []sweep.Option{
		sweep.WithCheckpoints(db.checkpoints),
		sweep.WithConfig(&sweep.Config{
			BatchSize:  db.config.Sweep.BatchSize,
			MaxRetries: db.config.Sweep.MaxRetries,
			RetryDelay: db.config.Sweep.RetryDelay,
		}),
		sweep.WithLogger(db.logger),
	}
}

// Export snapshots every chat and the blobs they reference.
func (db *Database) Export(ctx context.Context) (*archive.Archive, error) {
	exporter, err := archive.NewExporter(db.chats, db.blobs,
		archive.WithSchemaVersion(badger.SchemaVersion),
		archive.WithLogger(db.logger))
	if err != nil {
		return nil, err
	}
	return exporter.Export(ctx)
}

// Import loads an archive, skipping chats that are already present. The
// import runs as one transaction and either applies whole or not at all.
func (db *Database) Import(ctx context.Context, a *archive.Archive) (*archive.ImportResult, error) {
	importer, err := archive.NewImporter(db.chats, archive.WithLogger(db.logger))
	if err != nil {
		return nil, err
	}
	return importer.Import(ctx, a)
}

// BackfillThumbnails schedules up to limit media entries that have no
// thumbnail. A limit of zero or less schedules all of them.
func (db *Database) BackfillThumbnails(ctx context.Context, limit int) (int, error) {
	if db.thumbnails == nil {
		return 0, ErrThumbnailsDisabled
	}
	return db.thumbnails.Backfill(ctx, limit)
}

// Reindex rebuilds the search and media indexes from the message store and
// schedules thumbnails for the rebuilt media entries. The two rebuilds are
// independent and run concurrently.
func (db *Database) Reindex(ctx context.Context) (docs, media int, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := db.searchIndex.RebuildSearch(gctx)
		docs = n
		return err
	})
	g.Go(func() error {
		n, err := db.media.RebuildMedia(gctx)
		media = n
		return err
	})
	if err := g.Wait(); err != nil {
		return docs, media, err
	}

	if db.thumbnails != nil {
		if _, err := db.thumbnails.Backfill(ctx, 0); err != nil {
			return docs, media, err
		}
	}
	db.logger.Info("reindexed database", "searchDocs", docs, "mediaEntries", media)
	return docs, media, nil
}
