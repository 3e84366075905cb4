// Package buffer implements the buffer pool manager: the component that
// caches fixed-size pages in memory, serving reads and writes out of a
// bounded set of frames and evicting under memory pressure via an LRU-K
// replacer, ported from bustub's
// original_source/src/buffer/buffer_pool_manager_instance.cpp.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pagevault-db/pagevault/internal/storage/hashdir"
	"github.com/pagevault-db/pagevault/internal/storage/page"
	"github.com/pagevault-db/pagevault/internal/storage/replacer"
)

// ErrBufferPoolFull is returned by NewPage and the miss path of FetchPage
// when the free list is empty and the replacer has no evictable candidate.
var ErrBufferPoolFull = errors.New("buffer pool is full, all pages are pinned")

type frame struct {
	pageID   page.PageID
	data     []byte
	dirty    bool
	pinCount int
	lsn      page.LSN
}

// BufferPoolManager composes an LRU-K replacer with an extendible hash
// directory page table and a disk Manager. Frame memory is uniquely owned
// by the pool; returned byte slices alias a frame's buffer and are borrowed
// by the caller until the matching UnpinPage call. Per-page read/write
// exclusion is not provided by this layer, so callers sharing a page
// concurrently must coordinate themselves.
type BufferPoolManager struct {
	mu sync.Mutex

	instanceID string
	logger     *zap.Logger
	metrics    *Metrics
	logManager page.LogManager

	dm         page.Manager
	nextPageID atomic.Int64

	frames    []frame
	freeList  []replacer.FrameID
	pageTable *hashdir.Directory[page.PageID, replacer.FrameID]
	replacer  *replacer.LRUKReplacer
}

// Option configures a BufferPoolManager at construction time.
type Option func(*BufferPoolManager)

// WithLogger attaches a diagnostic logger; defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(bpm *BufferPoolManager) { bpm.logger = logger }
}

// WithMetrics registers the pool's counters/gauges against reg, labeled
// with the pool's instance id.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(bpm *BufferPoolManager) { bpm.metrics = NewMetrics(reg, bpm.instanceID) }
}

// WithLogManager attaches a write-ahead log collaborator consulted
// (non-blockingly, diagnostically) before a dirty frame is written back.
// Defaults to page.NopLogManager, which never flags a page as ahead of the
// durable watermark.
func WithLogManager(lm page.LogManager) Option {
	return func(bpm *BufferPoolManager) { bpm.logManager = lm }
}

// New constructs a BufferPoolManager backed by dm, with cfg.PoolSize
// frames. It seeds its own page id counter from dm's existing page count,
// since page id allocation belongs to the pool, not the disk manager.
func New(ctx context.Context, cfg Config, dm page.Manager, opts ...Option) (*BufferPoolManager, error) {
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.PoolSize)
	}
	k := cfg.ReplacerK
	if k <= 0 {
		k = 2
	}

	numPages, err := dm.NumPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read existing page count: %w", err)
	}

	frames := make([]frame, cfg.PoolSize)
	freeList := make([]replacer.FrameID, cfg.PoolSize)
	block := make([]byte, cfg.PoolSize*page.PageSize)
	for i := range frames {
		left := i * page.PageSize
		frames[i].data = block[left : left+page.PageSize]
		frames[i].pageID = page.InvalidPageID
		freeList[i] = replacer.FrameID(i)
	}

	bpm := &BufferPoolManager{
		instanceID: uuid.New().String(),
		logger:     zap.NewNop(),
		logManager: page.NopLogManager{},
		dm:         dm,
		frames:     frames,
		freeList:   freeList,
		pageTable:  hashdir.New[page.PageID, replacer.FrameID](cfg.BucketSize, hashdir.Uint64Hasher[page.PageID]()),
		replacer:   replacer.New(cfg.PoolSize, k),
	}
	bpm.nextPageID.Store(numPages)

	for _, opt := range opts {
		opt(bpm)
	}
	if bpm.metrics == nil {
		bpm.metrics = NewMetrics(nil, bpm.instanceID)
	}
	return bpm, nil
}

// InstanceID identifies this pool in logs and metric labels.
func (bpm *BufferPoolManager) InstanceID() string { return bpm.instanceID }

// NewPage allocates a fresh page, pins it into a frame, and returns its id
// along with the frame's (zeroed) byte buffer.
func (bpm *BufferPoolManager) NewPage(ctx context.Context) (page.PageID, []byte, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, err := bpm.findFreeFrame(ctx)
	if err != nil {
		return page.InvalidPageID, nil, err
	}

	pageID := page.PageID(bpm.nextPageID.Add(1) - 1)
	if err := bpm.dm.AllocatePage(ctx, pageID); err != nil {
		bpm.freeList = append(bpm.freeList, frameID)
		return page.InvalidPageID, nil, fmt.Errorf("failed to allocate page %d on disk: %w", pageID, err)
	}

	f := &bpm.frames[frameID]
	clear(f.data)
	f.pageID = pageID
	f.dirty = false
	f.pinCount = 1
	f.lsn = 0

	bpm.pageTable.Insert(pageID, frameID)
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)
	bpm.metrics.poolUtilization.Set(bpm.utilizationLocked())

	return pageID, f.data, nil
}

// FetchPage pins pageID into a frame, reading it from disk on a miss, and
// returns its byte buffer.
func (bpm *BufferPoolManager) FetchPage(ctx context.Context, pageID page.PageID) ([]byte, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable.Find(pageID); ok {
		f := &bpm.frames[frameID]
		f.pinCount++
		bpm.replacer.RecordAccess(frameID)
		bpm.replacer.SetEvictable(frameID, false)
		bpm.metrics.hits.Inc()
		return f.data, nil
	}
	bpm.metrics.misses.Inc()

	frameID, err := bpm.findFreeFrame(ctx)
	if err != nil {
		return nil, err
	}

	f := &bpm.frames[frameID]
	if err := bpm.dm.ReadPage(ctx, pageID, f.data); err != nil {
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}
	f.pageID = pageID
	f.dirty = false
	f.pinCount = 1
	f.lsn = 0

	bpm.pageTable.Insert(pageID, frameID)
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)
	bpm.metrics.poolUtilization.Set(bpm.utilizationLocked())

	return f.data, nil
}

// UnpinPage releases one pin on pageID. isDirty is OR'd into the frame's
// dirty flag: once dirty, a frame stays dirty until flushed. Returns false
// if pageID isn't mapped or already has a zero pin count.
func (bpm *BufferPoolManager) UnpinPage(pageID page.PageID, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false
	}
	f := &bpm.frames[frameID]
	if f.pinCount == 0 {
		return false
	}
	f.dirty = f.dirty || isDirty
	f.pinCount--
	if f.pinCount == 0 {
		bpm.replacer.SetEvictable(frameID, true)
	}
	return true
}

// SetPageLSN records the log sequence number of the last write applied to
// pageID's frame, consulted diagnostically before the next write-back.
// Returns false if pageID isn't currently mapped.
func (bpm *BufferPoolManager) SetPageLSN(pageID page.PageID, lsn page.LSN) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false
	}
	bpm.frames[frameID].lsn = lsn
	return true
}

// FlushPage unconditionally writes pageID's frame to disk and clears its
// dirty flag, even if it wasn't dirty. Returns false if pageID isn't
// mapped or is the invalid sentinel.
func (bpm *BufferPoolManager) FlushPage(ctx context.Context, pageID page.PageID) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.flushPageLocked(ctx, pageID)
}

func (bpm *BufferPoolManager) flushPageLocked(ctx context.Context, pageID page.PageID) (bool, error) {
	if pageID == page.InvalidPageID {
		return false, nil
	}
	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false, nil
	}
	f := &bpm.frames[frameID]
	bpm.warnIfAheadOfWAL(pageID, f.lsn)
	if err := bpm.dm.WritePage(ctx, pageID, f.data); err != nil {
		return false, fmt.Errorf("failed to flush page %d: %w", pageID, err)
	}
	f.dirty = false
	bpm.metrics.flushes.Inc()
	return true, nil
}

// FlushAllPages flushes every currently mapped page. It snapshots the page
// table's keys before iterating and drops the pool mutex between pages, so
// it cannot deadlock against a concurrent Fetch/Unpin.
func (bpm *BufferPoolManager) FlushAllPages(ctx context.Context) error {
	bpm.mu.Lock()
	pageIDs := bpm.pageTable.Keys()
	bpm.mu.Unlock()

	for _, pageID := range pageIDs {
		bpm.mu.Lock()
		_, err := bpm.flushPageLocked(ctx, pageID)
		bpm.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// DeletePage removes pageID from the pool, returning its frame to the free
// list. Returns true without doing anything if pageID isn't mapped, and
// false without deleting anything if it's still pinned.
func (bpm *BufferPoolManager) DeletePage(ctx context.Context, pageID page.PageID) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return true, nil
	}
	f := &bpm.frames[frameID]
	if f.pinCount > 0 {
		return false, nil
	}

	bpm.pageTable.Remove(pageID)
	bpm.replacer.Remove(frameID)

	clear(f.data)
	f.pageID = page.InvalidPageID
	f.dirty = false
	f.pinCount = 0
	f.lsn = 0
	bpm.freeList = append(bpm.freeList, frameID)
	bpm.metrics.poolUtilization.Set(bpm.utilizationLocked())

	return true, nil
}

// Close flushes every dirty page, syncs, and closes the disk manager.
func (bpm *BufferPoolManager) Close(ctx context.Context) error {
	if err := bpm.FlushAllPages(ctx); err != nil {
		return err
	}
	if err := bpm.dm.Sync(ctx); err != nil {
		return err
	}
	return bpm.dm.Close(ctx)
}

// findFreeFrame returns a frame ready to hold a page: from the free list if
// one is available, otherwise from the replacer, writing back a dirty
// victim first. Returns ErrBufferPoolFull if neither source has a
// candidate. Callers must hold bpm.mu.
func (bpm *BufferPoolManager) findFreeFrame(ctx context.Context) (replacer.FrameID, error) {
	if n := len(bpm.freeList); n > 0 {
		id := bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
		return id, nil
	}

	victim, ok := bpm.replacer.Evict()
	if !ok {
		return 0, ErrBufferPoolFull
	}

	f := &bpm.frames[victim]
	if f.dirty {
		bpm.warnIfAheadOfWAL(f.pageID, f.lsn)
		if err := bpm.dm.WritePage(ctx, f.pageID, f.data); err != nil {
			return 0, fmt.Errorf("failed to write dirty page %d to disk: %w", f.pageID, err)
		}
		bpm.metrics.flushes.Inc()
	}
	bpm.pageTable.Remove(f.pageID)
	bpm.metrics.evictions.Inc()
	bpm.logger.Debug("evicted frame", zap.Int64("page_id", int64(f.pageID)))

	f.pageID = page.InvalidPageID
	f.dirty = false
	return victim, nil
}

// warnIfAheadOfWAL logs (at Debug) when a page about to be written back
// carries an LSN the configured log manager hasn't durably flushed yet. It
// never blocks the write: WAL durability enforcement is out of scope here.
func (bpm *BufferPoolManager) warnIfAheadOfWAL(pageID page.PageID, lsn page.LSN) {
	flushed := bpm.logManager.FlushedLSN()
	if lsn > flushed {
		bpm.logger.Debug("writing back page ahead of durable WAL watermark",
			zap.Int64("page_id", int64(pageID)),
			zap.Uint64("page_lsn", uint64(lsn)),
			zap.Uint64("flushed_lsn", uint64(flushed)),
		)
	}
}

// utilizationLocked reports the fraction of frames currently holding a
// page. Callers must hold bpm.mu.
func (bpm *BufferPoolManager) utilizationLocked() float64 {
	used := len(bpm.frames) - len(bpm.freeList)
	return float64(used) / float64(len(bpm.frames))
}
