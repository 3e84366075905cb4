package buffer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagevault-db/pagevault/internal/storage/page"
)

// TestScenario_S1 checks that three pages fill a 3-frame pool; a fourth
// allocation fails while everything is pinned; unpinning one dirty page
// lets the fourth succeed and flushes the one it replaced.
func TestScenario_S1(t *testing.T) {
	ctx := context.Background()
	bpm := newTestPool(t, 3)

	ids := make([]page.PageID, 3)
	buffers := make([][]byte, 3)
	for i := range ids {
		pageID, data, err := bpm.NewPage(ctx)
		require.NoError(t, err)
		ids[i] = pageID
		buffers[i] = data
	}
	assert.ElementsMatch(t, []page.PageID{0, 1, 2}, ids)

	_, _, err := bpm.NewPage(ctx)
	assert.ErrorIs(t, err, ErrBufferPoolFull)

	buffers[1][0] = 0x5A
	require.True(t, bpm.UnpinPage(ids[1], true))

	_, _, err = bpm.NewPage(ctx)
	require.NoError(t, err, "evicting the now-unpinned page should succeed")

	// Every frame is pinned again (the two originals plus the new page),
	// so page 1 is genuinely gone from the pool now; re-reading it through
	// the pool would require evicting something still pinned. Its slot is
	// read straight from the disk manager instead, to confirm eviction
	// flushed it.
	bpm.mu.Lock()
	_, stillMapped := bpm.pageTable.Find(ids[1])
	bpm.mu.Unlock()
	assert.False(t, stillMapped, "page 1 should have been evicted, not merely unpinned")

	onDisk := make([]byte, page.PageSize)
	require.NoError(t, bpm.dm.ReadPage(ctx, ids[1], onDisk))
	assert.Equal(t, byte(0x5A), onDisk[0], "evicting dirty page 1 should have written it back to disk")
}

// TestScenario_S2 checks that after NewPage and one FetchPage each (two
// accesses per page, so pages 0, 1, 2 all have a full k=2 history), the
// next allocation evicts page 0, the least recently touched of the three.
func TestScenario_S2(t *testing.T) {
	ctx := context.Background()
	bpm := newTestPool(t, 3)

	ids := make([]page.PageID, 3)
	for i := range ids {
		pageID, _, err := bpm.NewPage(ctx)
		require.NoError(t, err)
		ids[i] = pageID
		require.True(t, bpm.UnpinPage(pageID, false))
	}

	for _, id := range ids {
		_, err := bpm.FetchPage(ctx, id)
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(id, false))
	}

	_, _, err := bpm.NewPage(ctx)
	require.NoError(t, err)

	bpm.mu.Lock()
	_, stillMapped := bpm.pageTable.Find(ids[0])
	bpm.mu.Unlock()
	assert.False(t, stillMapped, "page 0 should have been the eviction victim")

	_, err = bpm.FetchPage(ctx, ids[0])
	require.NoError(t, err, "page 0 was evicted and must be readable again from disk")
	bpm.UnpinPage(ids[0], false)
}

// TestScenario_S3 checks that touching 0,1,2,0,1,2 gives every page a
// full k=2 history; the next allocation evicts page 0 by earliest
// k-th-back access.
func TestScenario_S3(t *testing.T) {
	ctx := context.Background()
	bpm := newTestPool(t, 3)

	ids := make([]page.PageID, 3)
	for i := range ids {
		pageID, _, err := bpm.NewPage(ctx)
		require.NoError(t, err)
		ids[i] = pageID
		require.True(t, bpm.UnpinPage(pageID, false))
	}

	for _, id := range ids {
		_, err := bpm.FetchPage(ctx, id)
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(id, false))
	}
	for _, id := range ids {
		_, err := bpm.FetchPage(ctx, id)
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(id, false))
	}

	_, _, err := bpm.NewPage(ctx)
	require.NoError(t, err)

	bpm.mu.Lock()
	_, stillMapped := bpm.pageTable.Find(ids[0])
	bpm.mu.Unlock()
	assert.False(t, stillMapped, "page 0 should have been the eviction victim")

	_, err = bpm.FetchPage(ctx, ids[0])
	require.NoError(t, err, "page 0 should have been the eviction victim")
	bpm.UnpinPage(ids[0], false)
}

// TestScenario_S5 checks that after a new page is written and unpinned
// dirty, flush clears dirty and writes the page; a subsequent fetch reads
// the written bytes back.
func TestScenario_S5(t *testing.T) {
	ctx := context.Background()
	bpm := newTestPool(t, 3)

	pageID, data, err := bpm.NewPage(ctx)
	require.NoError(t, err)
	data[0] = 0x42
	require.True(t, bpm.UnpinPage(pageID, true))

	ok, err := bpm.FlushPage(ctx, pageID)
	require.NoError(t, err)
	require.True(t, ok)

	bpm.mu.Lock()
	frameID, _ := bpm.pageTable.Find(pageID)
	dirty := bpm.frames[frameID].dirty
	bpm.mu.Unlock()
	assert.False(t, dirty, "flush should clear the dirty flag")

	onDisk := make([]byte, page.PageSize)
	require.NoError(t, bpm.dm.ReadPage(ctx, pageID, onDisk))
	assert.Equal(t, byte(0x42), onDisk[0], "flush should have written the page to disk")

	got, err := bpm.FetchPage(ctx, pageID)
	require.NoError(t, err)
	defer bpm.UnpinPage(pageID, false)
	assert.Equal(t, byte(0x42), got[0])
}

// TestScenario_S6 checks that delete on a pinned page fails; after
// unpinning, delete succeeds and the frame becomes reusable via the free
// list.
func TestScenario_S6(t *testing.T) {
	ctx := context.Background()
	bpm := newTestPool(t, 1)

	pageID, _, err := bpm.NewPage(ctx)
	require.NoError(t, err)

	ok, err := bpm.DeletePage(ctx, pageID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.True(t, bpm.UnpinPage(pageID, false))

	ok, err = bpm.DeletePage(ctx, pageID)
	require.NoError(t, err)
	assert.True(t, ok)

	// The pool had exactly one frame; it must now be free again.
	_, _, err = bpm.NewPage(ctx)
	require.NoError(t, err)
}
