// Package replacer implements the LRU-K eviction policy over a fixed
// number of frames, ported from bustub's
// original_source/src/buffer/lru_k_replacer.cpp, re-expressing the
// original's doubly linked list of raw node pointers as a slab of nodes
// addressed by index; this implementation keeps a slice
// arena (nodes) plus an explicit prev/next index chain instead of
// container/list, so node identity survives Go's GC without pointer
// chasing through interface{} values.
package replacer

import (
	"sync"

	"go.uber.org/zap"
)

// FrameID identifies a frame slot in the buffer pool.
type FrameID int

const sentinel = -1

type node struct {
	frameID     FrameID
	visit       int // clipped access count, in [1, k]
	isEvictable bool
	prev, next  int // indices into nodes; sentinel at the list ends
}

// LRUKReplacer tracks up to numFrames frames and picks an eviction victim
// the LRU-K way: frames seen fewer than k times (infinite backward
// k-distance) are evicted before frames with a full k-access history.
// Internally this is a single list ordered so the tail is always the next
// victim candidate: frames with exactly k accesses sit toward the head,
// frames with fewer than k sit toward the tail, and within either group
// the least recently touched member sits closest to the tail. Full-history
// frames are thus ordered by their most recent access, not by their k-th
// most recent one.
type LRUKReplacer struct {
	mu sync.Mutex

	numFrames int
	k         int
	logger    *zap.Logger

	nodes      []node
	freeNodes  []int           // indices into nodes available for reuse
	byFrame    map[FrameID]int // frame id -> index into nodes
	head, tail int             // sentinel-headed/tailed doubly linked list
	tracked    int
	evictable  int
}

// New constructs an LRUKReplacer able to track up to numFrames frames,
// each evicted using its k-th most recent access.
func New(numFrames, k int, opts ...Option) *LRUKReplacer {
	r := &LRUKReplacer{
		numFrames: numFrames,
		k:         k,
		logger:    zap.NewNop(),
		byFrame:   make(map[FrameID]int, numFrames),
		head:      sentinel,
		tail:      sentinel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures an LRUKReplacer at construction time.
type Option func(*LRUKReplacer)

// WithLogger attaches a diagnostic logger; defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *LRUKReplacer) { r.logger = logger }
}

// unlink removes nodes[i] from the list without touching byFrame or tracked/evictable.
func (r *LRUKReplacer) unlink(i int) {
	n := &r.nodes[i]
	if n.prev != sentinel {
		r.nodes[n.prev].next = n.next
	} else {
		r.head = n.next
	}
	if n.next != sentinel {
		r.nodes[n.next].prev = n.prev
	} else {
		r.tail = n.prev
	}
	n.prev, n.next = sentinel, sentinel
}

// allocNode returns a slot initialized for frameID, reusing a freed slot
// from freeNodes when one is available instead of growing nodes forever.
func (r *LRUKReplacer) allocNode(frameID FrameID) int {
	if n := len(r.freeNodes); n > 0 {
		i := r.freeNodes[n-1]
		r.freeNodes = r.freeNodes[:n-1]
		r.nodes[i] = node{frameID: frameID, visit: 1, prev: sentinel, next: sentinel}
		return i
	}
	i := len(r.nodes)
	r.nodes = append(r.nodes, node{frameID: frameID, visit: 1, prev: sentinel, next: sentinel})
	return i
}

// insertBefore splices nodes[i] immediately before nodes[at] (or at the
// tail if at == sentinel).
func (r *LRUKReplacer) insertBefore(i, at int) {
	n := &r.nodes[i]
	if at == sentinel {
		n.prev = r.tail
		n.next = sentinel
		if r.tail != sentinel {
			r.nodes[r.tail].next = i
		} else {
			r.head = i
		}
		r.tail = i
		return
	}
	prev := r.nodes[at].prev
	n.prev = prev
	n.next = at
	r.nodes[at].prev = i
	if prev != sentinel {
		r.nodes[prev].next = i
	} else {
		r.head = i
	}
}

// RecordAccess registers a touch of frameID. A frame seen for the first
// time is tracked only while capacity remains (silently ignored
// otherwise). Its visit count saturates at k.
//
// Ordering invariant maintained on every call: walking from head to tail,
// nodes with visit == k come first (closest to head), followed by nodes
// with visit < k (closest to tail, the preferred victims); within either
// group the earliest-touched member sits closest to the tail.
func (r *LRUKReplacer) RecordAccess(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.byFrame[frameID]; ok {
		n := &r.nodes[i]
		if n.visit < r.k {
			n.visit++
		}
		r.unlink(i)
		r.insertBefore(i, r.positionFor(n.visit))
		return
	}

	if r.tracked >= r.numFrames {
		return
	}

	// Non-evictable by default: a frame is only evictable once its pin
	// count drops to zero, and the caller that just brought it in (e.g.
	// BufferPoolManager.NewPage) still holds that pin.
	i := r.allocNode(frameID)
	r.byFrame[frameID] = i
	r.tracked++
	r.insertBefore(i, r.positionFor(1))
}

// positionFor returns the insertion point for a node whose visit count is
// visit. A node with a full k-access history goes to the head of the list;
// a node with fewer than k accesses goes just past the last full-history
// node (or to the tail, if every node has a full history). Either way the
// node lands at the head end of its own group, so each group is ordered by
// recency, most-recent nearest the head.
func (r *LRUKReplacer) positionFor(visit int) int {
	cur := r.head
	if visit >= r.k {
		return cur
	}
	for cur != sentinel && r.nodes[cur].visit >= r.k {
		cur = r.nodes[cur].next
	}
	return cur
}

// SetEvictable marks frameID evictable or pinned. It is a no-op for an
// untracked frame.
func (r *LRUKReplacer) SetEvictable(frameID FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byFrame[frameID]
	if !ok {
		return
	}
	n := &r.nodes[i]
	if n.isEvictable == evictable {
		return
	}
	n.isEvictable = evictable
	if evictable {
		r.evictable++
	} else {
		r.evictable--
	}
}

// Remove stops tracking frameID. Removing a non-evictable (pinned) frame
// is a programming error and is silently ignored.
func (r *LRUKReplacer) Remove(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byFrame[frameID]
	if !ok {
		return
	}
	if !r.nodes[i].isEvictable {
		return
	}
	r.unlink(i)
	delete(r.byFrame, frameID)
	r.freeNodes = append(r.freeNodes, i)
	r.tracked--
	r.evictable--
}

// Evict picks the tail-most evictable node — the least recently touched
// evictable frame with fewer than k accesses, or, if there is none, the
// least recently touched evictable full-history frame — and stops
// tracking it.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictable <= 0 {
		return 0, false
	}

	for cur := r.tail; cur != sentinel; cur = r.nodes[cur].prev {
		if !r.nodes[cur].isEvictable {
			continue
		}
		frameID := r.nodes[cur].frameID
		r.unlink(cur)
		delete(r.byFrame, frameID)
		r.freeNodes = append(r.freeNodes, cur)
		r.tracked--
		r.evictable--
		r.logger.Debug("evicted frame", zap.Int("frame_id", int(frameID)))
		return frameID, true
	}
	return 0, false
}

// Size returns the number of frames currently eligible for eviction.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictable
}
