package badger

import (
	"errors"
	"fmt"
	"iter"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

// Tx is one unit of work over a declared set of logical stores.
type Tx struct {
	txn      *badger.Txn
	backend  *Backend
	scope    map[storage.StoreName]bool
	writable bool
	onCommit []func()
}

func newTx(stores []storage.StoreName, writable bool) *Tx {
	scope := make(map[storage.StoreName]bool, len(stores))
	for _, name := range stores {
		scope[name] = true
	}
	return &Tx{scope: scope, writable: writable}
}

// Writable reports whether the transaction may write.
func (tx *Tx) Writable() bool {
	return tx.writable
}

// OnCommit registers fn to run after the transaction commits. It never runs
// if the transaction aborts.
func (tx *Tx) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// NextID returns the next value of a named database sequence. Sequences are
// not transactional; an aborted transaction leaves a gap.
func (tx *Tx) NextID(name string) (core.ID, error) {
	return tx.backend.NextID(name)
}

// Bucket returns a handle to a logical store. The store must be in scope.
func (tx *Tx) Bucket(name storage.StoreName) (*Bucket, error) {
	if !tx.scope[name] {
		return nil, fmt.Errorf("%w: %s", storage.ErrStoreNotInScope, name)
	}
	return &Bucket{tx: tx, name: name, prefix: storePrefix(name)}, nil
}

// Buckets returns handles for several stores at once.
func (tx *Tx) Buckets(names ...storage.StoreName) ([]*Bucket, error) {
	out := make([]*Bucket, len(names))
	for i, name := range names {
		b, err := tx.Bucket(name)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Bucket is a logical store within a transaction. Keys passed to and
// returned from a Bucket are relative to the store.
type Bucket struct {
	tx     *Tx
	name   storage.StoreName
	prefix []byte
}

// Name returns the store name.
func (b *Bucket) Name() storage.StoreName {
	return b.name
}

func (b *Bucket) fullKey(key []byte) []byte {
	full := make([]byte, 0, len(b.prefix)+len(key))
	full = append(full, b.prefix...)
	return append(full, key...)
}

// Get returns a copy of the value stored at key, or nil if absent.
func (b *Bucket) Get(key []byte) ([]byte, error) {
	item, err := b.tx.txn.Get(b.fullKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Has reports whether key exists.
func (b *Bucket) Has(key []byte) (bool, error) {
	_, err := b.tx.txn.Get(b.fullKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Put stores value at key.
func (b *Bucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("%w: put into %s", storage.ErrReadOnly, b.name)
	}
	if b.tx.backend != nil && b.tx.backend.inMemory && len(value) > MaxMemoryValueSize {
		return fmt.Errorf("%w: %d bytes into %s, in-memory limit is %d",
			storage.ErrValueTooLarge, len(value), b.name, MaxMemoryValueSize)
	}
	return b.tx.txn.Set(b.fullKey(key), value)
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Bucket) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("%w: delete from %s", storage.ErrReadOnly, b.name)
	}
	return b.tx.txn.Delete(b.fullKey(key))
}

// DeletePrefix removes every key starting with prefix and returns the count.
func (b *Bucket) DeletePrefix(prefix []byte) (int, error) {
	if !b.tx.writable {
		return 0, fmt.Errorf("%w: delete from %s", storage.ErrReadOnly, b.name)
	}
	keys, err := b.Keys(prefix)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := b.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Keys returns every key starting with prefix, in order.
func (b *Bucket) Keys(prefix []byte) ([][]byte, error) {
	c := b.cursor(prefix, false, false)
	defer c.Close()
	var keys [][]byte
	for c.Next() {
		keys = append(keys, c.Key())
	}
	return keys, nil
}

// Count returns the number of keys starting with prefix.
func (b *Bucket) Count(prefix []byte) (int, error) {
	c := b.cursor(prefix, false, false)
	defer c.Close()
	n := 0
	for c.Next() {
		n++
	}
	return n, nil
}

// Cursor opens a forward cursor over keys starting with prefix. The caller
// must Close it before the transaction ends.
func (b *Bucket) Cursor(prefix []byte) *Cursor {
	return b.cursor(prefix, false, true)
}

// ReverseCursor opens a cursor that walks keys starting with prefix from the
// last to the first.
func (b *Bucket) ReverseCursor(prefix []byte) *Cursor {
	return b.cursor(prefix, true, true)
}

func (b *Bucket) cursor(prefix []byte, reverse, values bool) *Cursor {
	full := b.fullKey(prefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = full
	opts.Reverse = reverse
	opts.PrefetchValues = values
	return &Cursor{
		it:      b.tx.txn.NewIterator(opts),
		prefix:  full,
		strip:   len(b.prefix),
		reverse: reverse,
	}
}

// KV is one key/value pair yielded by Scan.
type KV struct {
	Key   []byte
	Value []byte
}

// Scan yields every key/value pair starting with prefix. Breaking out of the
// loop closes the underlying cursor. A read failure is yielded once as the
// error and ends the scan.
func (b *Bucket) Scan(prefix []byte) iter.Seq2[KV, error] {
	return func(yield func(KV, error) bool) {
		c := b.Cursor(prefix)
		defer c.Close()
		for c.Next() {
			val, err := c.Value()
			if err != nil {
				yield(KV{}, err)
				return
			}
			if !yield(KV{Key: c.Key(), Value: val}, nil) {
				return
			}
		}
	}
}

// Cursor steps through the keys of one store prefix. It sees the
// transaction's writes made before it was opened.
type Cursor struct {
	it      *badger.Iterator
	prefix  []byte
	strip   int
	reverse bool
	started bool
	seek    []byte
	closed  bool
}

// Seek positions the cursor so the next call to Next lands on the first key
// at or after key (at or before key for reverse cursors). key is relative to
// the store. Seek must be called before the first Next.
func (c *Cursor) Seek(key []byte) {
	full := make([]byte, 0, c.strip+len(key))
	full = append(full, c.prefix[:c.strip]...)
	c.seek = append(full, key...)
}

// Next moves to the next key and reports whether one exists.
func (c *Cursor) Next() bool {
	if c.closed {
		return false
	}
	if !c.started {
		c.started = true
		c.it.Seek(c.start())
	} else {
		c.it.Next()
	}
	return c.it.ValidForPrefix(c.prefix)
}

// Advance skips up to n keys and returns how many were skipped. The next
// call to Next lands on the key after the last one skipped.
func (c *Cursor) Advance(n int) int {
	skipped := 0
	for skipped < n && c.Next() {
		skipped++
	}
	return skipped
}

func (c *Cursor) start() []byte {
	if c.seek != nil {
		return c.seek
	}
	if !c.reverse {
		return c.prefix
	}
	// Seek lands on the largest key <= target in reverse mode.
	end := make([]byte, 0, len(c.prefix)+32)
	end = append(end, c.prefix...)
	for range 32 {
		end = append(end, 0xFF)
	}
	return end
}

// Key returns a copy of the current key, relative to the store.
func (c *Cursor) Key() []byte {
	return c.it.Item().KeyCopy(nil)[c.strip:]
}

// Value returns a copy of the current value.
func (c *Cursor) Value() ([]byte, error) {
	return c.it.Item().ValueCopy(nil)
}

// Close releases the cursor. It is safe to call more than once.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.it.Close()
}
