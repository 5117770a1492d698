package badger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

const (
	defaultSequenceBandwidth = 100

	// valueThreshold keeps image-bearing records in the value log so they
	// count as pointers toward Badger's transaction size limit.
	valueThreshold = 64 << 10

	// MaxMemoryValueSize is the largest value an in-memory backend accepts.
	// In-memory Badger has no value log and caps values at 1 MiB.
	MaxMemoryValueSize = 1 << 20
)

// Backend wraps a BadgerDB instance and provides the transactional substrate
// every repository runs on. Logical stores are key prefixes in one database.
type Backend struct {
	db       *badger.DB
	logger   *slog.Logger
	inMemory bool

	// writeMu linearizes read-write transactions so overlapping units of
	// work never fail with conflicts.
	writeMu sync.Mutex

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithBackendLogger sets the logger used by the backend and by Badger itself.
func WithBackendLogger(logger *slog.Logger) BackendOption {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool, opts ...BackendOption) (*Backend, error) {
	b := &Backend{
		logger:   slog.Default(),
		seqs:     make(map[string]*badger.Sequence),
		inMemory: inMemory,
	}
	for _, opt := range opts {
		opt(b)
	}

	var bopts badger.Options
	if inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Ensure directory exists
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filePath, 0755); err != nil {
					return nil, err
				}
				info, err = os.Stat(filePath)
				if err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		bopts = badger.DefaultOptions(filePath).WithValueThreshold(valueThreshold)
	}

	bopts.Logger = &badgerLoggerAdapter{logger: b.logger}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	b.db = db
	return b, nil
}

// Close releases ID sequences and closes the BadgerDB database.
func (b *Backend) Close() error {
	b.seqMu.Lock()
	for name, seq := range b.seqs {
		if err := seq.Release(); err != nil {
			b.logger.Warn("error releasing sequence", "sequence", name, "err", err)
		}
	}
	b.seqs = make(map[string]*badger.Sequence)
	b.seqMu.Unlock()
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded if fn returns an error.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// NextID returns the next value of a named sequence, skipping 0.
func (b *Backend) NextID(name string) (core.ID, error) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	seq, ok := b.seqs[name]
	if !ok {
		var err error
		seq, err = b.db.GetSequence([]byte(name), defaultSequenceBandwidth)
		if err != nil {
			return 0, err
		}
		b.seqs[name] = seq
	}

	next, err := seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if next == 0 {
		next, err = seq.Next()
		if err != nil {
			return 0, err
		}
	}
	return core.ID(next), nil
}

// RunTransaction opens one transaction spanning exactly stores, runs fn with
// it and commits. Any error from fn aborts the transaction and is returned
// unchanged; nothing fn wrote becomes visible. Hooks registered with
// Tx.OnCommit run after a successful commit.
//
// ctx is checked once before the transaction starts. A started transaction
// runs to completion or failure.
func (b *Backend) RunTransaction(ctx context.Context, stores []storage.StoreName, mode storage.TxMode, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}

	tx := newTx(stores, mode == storage.ReadWrite)
	tx.backend = b
	if err := b.runLocked(tx, fn); err != nil {
		return err
	}
	for _, hook := range tx.onCommit {
		hook()
	}
	return nil
}

func (b *Backend) runLocked(tx *Tx, fn func(tx *Tx) error) error {
	if tx.writable {
		b.writeMu.Lock()
		defer b.writeMu.Unlock()
	}
	return b.WithTx(func(txn *badger.Txn) error {
		tx.txn = txn
		if err := fn(tx); err != nil {
			return err
		}
		if !tx.writable {
			return nil
		}
		return txn.Commit()
	}, tx.writable)
}

// View runs fn in a read-only transaction and returns its result.
func View[T any](ctx context.Context, b *Backend, stores []storage.StoreName, fn func(tx *Tx) (T, error)) (T, error) {
	var result T
	err := b.RunTransaction(ctx, stores, storage.ReadOnly, func(tx *Tx) error {
		var err error
		result, err = fn(tx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Update runs fn in a read-write transaction and returns its result.
func Update[T any](ctx context.Context, b *Backend, stores []storage.StoreName, fn func(tx *Tx) (T, error)) (T, error) {
	var result T
	err := b.RunTransaction(ctx, stores, storage.ReadWrite, func(tx *Tx) error {
		var err error
		result, err = fn(tx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
