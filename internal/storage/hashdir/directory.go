// Package hashdir implements an extendible hash directory: a concurrent
// associative lookup from a key to a value that grows by doubling the
// directory and splitting the overflowing bucket, ported from
// bustub's container/hash/extendible_hash_table.cpp.
package hashdir

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// DefaultBucketSize is used when a Directory is constructed with bucketSize <= 0.
const DefaultBucketSize = 4

// Hasher produces a 64-bit digest for a key. The low bits of the digest
// address the directory; this directory makes no promises about
// the hash algorithm itself.
type Hasher[K comparable] func(key K) uint64

// Uint64Hasher hashes any integer-shaped key, signed or unsigned, by
// converting it to uint64 and feeding its little-endian bytes through xxhash, following the pack's adoption of
// cespare/xxhash as the fast non-cryptographic hash of choice.
func Uint64Hasher[K ~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64]() Hasher[K] {
	return func(key K) uint64 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(key))
		return xxhash.Sum64(buf[:])
	}
}

type entry[K comparable, V any] struct {
	key K
	val V
}

// bucket is a bounded ordered sequence of entries plus the local depth it
// was created at. Buckets live in Directory.buckets (the arena); multiple
// directory slots may alias the same bucket index until a split.
type bucket[K comparable, V any] struct {
	entries    []entry[K, V]
	localDepth int
}

func newBucket[K comparable, V any](capacity, localDepth int) *bucket[K, V] {
	return &bucket[K, V]{entries: make([]entry[K, V], 0, capacity), localDepth: localDepth}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.entries {
		if e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) isFull(capacity int) bool {
	return len(b.entries) >= capacity
}

// upsert overwrites the value if key is present. It returns true if it
// updated an existing entry (so the caller never needs to check isFull).
func (b *bucket[K, V]) upsert(key K, val V) bool {
	for i := range b.entries {
		if b.entries[i].key == key {
			b.entries[i].val = val
			return true
		}
	}
	return false
}

func (b *bucket[K, V]) append(key K, val V) {
	b.entries = append(b.entries, entry[K, V]{key: key, val: val})
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Directory is an extendible hash directory mapping K to V. It is safe for
// concurrent use: structural changes (splits, directory doubling) and plain
// lookups both serialize on a single mutex, so a split is never observed
// half-finished.
type Directory[K comparable, V any] struct {
	mu sync.Mutex

	hash       Hasher[K]
	bucketSize int
	logger     *zap.Logger

	globalDepth int
	// slots[i] is an index into buckets. Multiple slots may share an index.
	slots   []int
	buckets []*bucket[K, V]
}

// Option configures a Directory at construction time.
type Option[K comparable, V any] func(*Directory[K, V])

// WithLogger attaches a diagnostic logger; defaults to a no-op logger.
func WithLogger[K comparable, V any](logger *zap.Logger) Option[K, V] {
	return func(d *Directory[K, V]) { d.logger = logger }
}

// New constructs a Directory with one bucket of the given capacity at
// global depth 0.
func New[K comparable, V any](bucketSize int, hash Hasher[K], opts ...Option[K, V]) *Directory[K, V] {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	d := &Directory[K, V]{
		hash:       hash,
		bucketSize: bucketSize,
		logger:     zap.NewNop(),
		slots:      []int{0},
		buckets:    []*bucket[K, V]{newBucket[K, V](bucketSize, 0)},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory[K, V]) slotOf(key K) int {
	mask := (1 << d.globalDepth) - 1
	return int(d.hash(key)) & mask
}

// GlobalDepth returns the number of low-order hash bits the whole
// directory currently addresses with.
func (d *Directory[K, V]) GlobalDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.globalDepth
}

// LocalDepth returns the local depth of the bucket addressed by slot.
func (d *Directory[K, V]) LocalDepth(slot int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buckets[d.slots[slot]].localDepth
}

// NumBuckets returns the number of distinct bucket identities in the directory.
func (d *Directory[K, V]) NumBuckets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buckets)
}

// Find returns the value associated with key, if present.
func (d *Directory[K, V]) Find(key K) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.buckets[d.slots[d.slotOf(key)]]
	return b.find(key)
}

// Remove deletes key and reports whether it was present.
func (d *Directory[K, V]) Remove(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.buckets[d.slots[d.slotOf(key)]]
	return b.remove(key)
}

// Len returns the number of keys currently stored.
func (d *Directory[K, V]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.len()
}

func (d *Directory[K, V]) len() int {
	n := 0
	for _, b := range d.buckets {
		n += len(b.entries)
	}
	return n
}

// Keys returns a snapshot of every key currently stored, in no particular
// order. Callers that need to iterate the whole directory while it may keep
// mutating (e.g. flushing every page) should snapshot with Keys first
// rather than hold the lock across their own per-key work.
func (d *Directory[K, V]) Keys() []K {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]K, 0, d.len())
	for _, b := range d.buckets {
		for _, e := range b.entries {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Insert inserts or updates (key, val). If the owning bucket is full and
// the key is new, the bucket is split (doubling the directory first if its
// local depth has caught up to the global depth) and insertion is retried.
func (d *Directory[K, V]) Insert(key K, val V) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		slot := d.slotOf(key)
		bucketIdx := d.slots[slot]
		b := d.buckets[bucketIdx]

		if b.upsert(key, val) {
			return
		}
		if !b.isFull(d.bucketSize) {
			b.append(key, val)
			return
		}

		d.split(bucketIdx)
	}
}

// split grows the directory (if needed) and partitions bucketIdx's entries
// between it and a freshly allocated bucket. It runs under d.mu (held by
// Insert), so no lookup observes a split in progress.
func (d *Directory[K, V]) split(bucketIdx int) {
	old := d.buckets[bucketIdx]

	if old.localDepth == d.globalDepth {
		// Directory doubling: every slot i gains a twin at i | (1<<globalDepth).
		oldSize := len(d.slots)
		d.slots = append(d.slots, make([]int, oldSize)...)
		for i := 0; i < oldSize; i++ {
			d.slots[i+oldSize] = d.slots[i]
		}
		d.globalDepth++
		d.logger.Debug("directory doubled", zap.Int("global_depth", d.globalDepth))
	}

	old.localDepth++
	newIdx := len(d.buckets)
	newBkt := newBucket[K, V](d.bucketSize, old.localDepth)
	d.buckets = append(d.buckets, newBkt)

	mask := 1 << (old.localDepth - 1)
	for i := range d.slots {
		if d.slots[i] == bucketIdx && i&mask != 0 {
			d.slots[i] = newIdx
		}
	}

	var remaining []entry[K, V]
	for _, e := range old.entries {
		if int(d.hash(e.key))&mask != 0 {
			newBkt.append(e.key, e.val)
		} else {
			remaining = append(remaining, e)
		}
	}
	old.entries = remaining

	d.logger.Debug("bucket split",
		zap.Int("old_bucket", bucketIdx),
		zap.Int("new_bucket", newIdx),
		zap.Int("local_depth", old.localDepth),
	)
}
