// Package page defines the on-disk unit of I/O and caching (a Page), the
// DiskManager collaborator that moves pages between the file and memory,
// and the byte layout helpers a caller can use once a page is pinned.
package page

import "context"

// PageSize is the fixed page size in bytes, a build-time constant.
const PageSize = 4 * 1024 // 4KB

// PageID identifies a page. InvalidPageID is the distinguished sentinel
// used for unmapped frames and illegal flush arguments.
type PageID int64

// InvalidPageID is the sentinel value of an unmapped or not-yet-allocated page.
const InvalidPageID PageID = -1

// Manager is the disk I/O collaborator required by the buffer pool manager.
// Implementations block until the operation completes and may fail. The
// page id space is owned by the caller (the buffer pool manager), not by
// Manager: AllocatePage just reserves and zero-fills the slot for an id the
// caller already picked.
type Manager interface {
	// NumPages reports how many pages already exist in the backing store,
	// so a fresh caller can seed its own id counter past them.
	NumPages(ctx context.Context) (int64, error)
	// AllocatePage reserves and zero-fills pageID's slot, growing the
	// backing store if needed.
	AllocatePage(ctx context.Context, pageID PageID) error
	// ReadPage fills p (len(p) == PageSize) with the bytes of pageID.
	ReadPage(ctx context.Context, pageID PageID, p []byte) error
	// WritePage writes p (len(p) == PageSize) to pageID.
	WritePage(ctx context.Context, pageID PageID, p []byte) error
	// Sync forces any buffered writes to durable storage.
	Sync(ctx context.Context) error
	// Close releases the resources held by the manager.
	Close(ctx context.Context) error
}

// LSN is a log sequence number, opaque to this package.
type LSN uint64

// LogManager is the write-ahead log collaborator declared by this package's
// contract. The buffer pool manager consults it before writing back a dirty
// page so that WAL ordering can eventually be enforced by a real log
// manager; this package does not implement WAL durability itself.
type LogManager interface {
	// FlushedLSN returns the highest LSN durably written to the log.
	FlushedLSN() LSN
}

// NopLogManager is a LogManager that reports everything as durable. It is
// the default when a buffer pool is constructed without a real log manager.
type NopLogManager struct{}

// FlushedLSN always returns the maximum LSN, so callers never block on it.
func (NopLogManager) FlushedLSN() LSN { return ^LSN(0) }
