package thumbnail

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

// Pipeline generates thumbnails for media index entries on a worker pool.
type Pipeline struct {
	media     storage.MediaIndex
	pool      *ants.Pool
	pending   sync.WaitGroup
	shortEdge int
	quality   int
	logger    *slog.Logger
}

var _ storage.ThumbnailScheduler = (*Pipeline)(nil)

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of concurrent thumbnail workers.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithShortEdge bounds the short edge of generated thumbnails.
// Default is DefaultShortEdge.
func WithShortEdge(px int) Option {
	return func(p *Pipeline) error {
		if px <= 0 {
			return fmt.Errorf("%w: short edge %d", ErrInvalidSize, px)
		}
		p.shortEdge = px
		return nil
	}
}

// WithQuality sets the JPEG quality, 1 to 100. Default is DefaultQuality.
func WithQuality(quality int) Option {
	return func(p *Pipeline) error {
		if quality < 1 || quality > 100 {
			return fmt.Errorf("%w: quality %d", ErrInvalidSize, quality)
		}
		p.quality = quality
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a thumbnail pipeline that patches entries of media.
func NewPipeline(media storage.MediaIndex, opts ...Option) (*Pipeline, error) {
	if media == nil {
		return nil, ErrMediaIndexRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		media:     media,
		pool:      pool,
		shortEdge: DefaultShortEdge,
		quality:   DefaultQuality,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.pool.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Schedule queues thumbnail generation for ids and returns immediately.
// Failures are logged; the entry keeps reading without a thumbnail.
func (p *Pipeline) Schedule(ids ...core.ID) {
	if len(ids) == 0 {
		return
	}
	batch := slices.Clone(ids)
	p.pending.Add(len(batch))

	// Submit blocks while every worker is busy, so it runs off the caller's
	// goroutine.
	go func() {
		for _, id := range batch {
			err := p.pool.Submit(func() {
				defer p.pending.Done()
				if err := p.Process(context.Background(), id); err != nil {
					p.logger.Warn("thumbnail generation failed", "mediaID", id, "err", err)
				}
			})
			if err != nil {
				p.pending.Done()
				p.logger.Warn("thumbnail task rejected", "mediaID", id, "err", err)
			}
		}
	}()
}

// Process generates and stores the thumbnail of one entry synchronously.
// Entries that vanished, or whose image is gone, are skipped without error.
func (p *Pipeline) Process(ctx context.Context, id core.ID) error {
	data, err := p.media.GetMediaImage(ctx, id)
	if err != nil {
		return err
	}
	if data == "" {
		p.logger.Debug("media image gone, skipping thumbnail", "mediaID", id)
		return nil
	}
	res, err := Generate(data, p.shortEdge, p.quality)
	if err != nil {
		return err
	}
	if err := p.media.SetThumbnail(ctx, id, res.DataURL, res.Width, res.Height); err != nil {
		return err
	}
	p.logger.Debug("thumbnail stored", "mediaID", id, "width", res.Width, "height", res.Height)
	return nil
}

// Backfill schedules up to limit entries that have no thumbnail and returns
// how many were scheduled. A limit of zero or less schedules all of them.
func (p *Pipeline) Backfill(ctx context.Context, limit int) (int, error) {
	ids, err := p.media.MissingThumbnails(ctx, limit)
	if err != nil {
		return 0, err
	}
	p.Schedule(ids...)
	if len(ids) > 0 {
		p.logger.Info("scheduled thumbnail backfill", "entries", len(ids))
	}
	return len(ids), nil
}

// Wait blocks until every scheduled task has finished.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

// Release waits for scheduled tasks and releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.Wait()
	if p.pool != nil {
		p.pool.Release()
	}
}
