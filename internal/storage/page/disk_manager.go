package page

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync/atomic"
)

// DiskManager is a file-backed Manager. Pages are laid out consecutively
// starting at offset 0; AllocatePage zero-fills the slot for a caller-chosen
// page id, extending the file if that id hasn't been touched yet.
type DiskManager struct {
	file     *os.File
	nextPage atomic.Int64 // one past the highest page id ever allocated
}

// NewDiskManager opens (creating if needed) the file at filePath and
// derives the existing page count from its current size.
func NewDiskManager(ctx context.Context, filePath string) (*DiskManager, error) {
	fd, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	dm := &DiskManager{file: fd}
	fileSize, err := dm.getFileSize()
	if err != nil {
		return nil, fmt.Errorf("failed to get file size: %w", err)
	}

	if fileSize%PageSize != 0 {
		return nil, fmt.Errorf("file size %d is not aligned to page size %d", fileSize, PageSize)
	}

	dm.nextPage.Store(fileSize / PageSize)

	return dm, nil
}

// NumPages reports how many pages already exist in the backing file.
func (dm *DiskManager) NumPages(ctx context.Context) (int64, error) {
	return dm.nextPage.Load(), nil
}

// AllocatePage zero-fills pageID's slot, extending the file if pageID is
// past everything allocated so far.
func (dm *DiskManager) AllocatePage(ctx context.Context, pageID PageID) error {
	if pageID < 0 {
		return fmt.Errorf("invalid pageID %d", pageID)
	}
	zeroed := bytes.Repeat([]byte{0}, PageSize)
	if err := dm.writePage(pageID, zeroed); err != nil {
		return fmt.Errorf("failed to allocate page %d: %w", pageID, err)
	}
	for {
		cur := dm.nextPage.Load()
		next := int64(pageID) + 1
		if next <= cur {
			return nil
		}
		if dm.nextPage.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// ReadPage fills p with the on-disk bytes of pageID.
func (dm *DiskManager) ReadPage(ctx context.Context, pageID PageID, p []byte) error {
	if len(p) != PageSize {
		return fmt.Errorf("invalid buffer size: got %d, want %d", len(p), PageSize)
	}
	if err := dm.checkBounds(pageID); err != nil {
		return err
	}
	if _, err := dm.file.ReadAt(p, dm.offsetOf(pageID)); err != nil {
		return fmt.Errorf("failed to read page %d: %w", pageID, err)
	}
	return nil
}

// WritePage writes p to pageID's slot in the file.
func (dm *DiskManager) WritePage(ctx context.Context, pageID PageID, p []byte) error {
	if len(p) != PageSize {
		return fmt.Errorf("invalid buffer size: got %d, want %d", len(p), PageSize)
	}
	if err := dm.checkBounds(pageID); err != nil {
		return err
	}
	if err := dm.writePage(pageID, p); err != nil {
		return fmt.Errorf("failed to write page %d: %w", pageID, err)
	}
	return nil
}

// Sync forces buffered writes to durable storage.
func (dm *DiskManager) Sync(ctx context.Context) error {
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Close closes the backing file.
func (dm *DiskManager) Close(ctx context.Context) error {
	if err := dm.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

func (dm *DiskManager) checkBounds(pageID PageID) error {
	if pageID < 0 {
		return fmt.Errorf("invalid pageID %d", pageID)
	}
	if pageID >= PageID(dm.nextPage.Load()) {
		return fmt.Errorf("pageID %d out of bounds (lastPage: %d)", pageID, dm.nextPage.Load()-1)
	}
	return nil
}

func (dm *DiskManager) writePage(pageID PageID, p []byte) error {
	_, err := dm.file.WriteAt(p, dm.offsetOf(pageID))
	return err
}

func (dm *DiskManager) offsetOf(pageID PageID) int64 {
	return int64(pageID) * PageSize
}

func (dm *DiskManager) getFileSize() (int64, error) {
	info, err := dm.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to get file stat: %w", err)
	}
	return info.Size(), nil
}
