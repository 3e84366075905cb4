package page

import (
	"encoding/binary"
	"fmt"
)

// ErrPageFull is returned by InsertTuple when a tuple does not fit even
// after compaction.
var ErrPageFull = fmt.Errorf("page is full")

const (
	slotCountOffset        = 0
	freeSpacePointerOffset = 2
	lsnOffset              = 4

	slotCountSize        = 2
	freeSpacePointerSize = 2
	lsnFieldSize         = 8
	headerSize           = slotCountSize + freeSpacePointerSize + lsnFieldSize
	slotSize             = 4
)

type slotFlag uint8

const (
	slotUsed   slotFlag = 0
	slotDead   slotFlag = 1
	slotUnused slotFlag = 2
)

// SlottedPage is a view over a pinned frame's byte buffer that lays out
// variable-length tuples from the tail of the page while growing a fixed
// slot directory from the head, with a log sequence number stamped into
// the header so it survives a flush to disk. It does not own the
// underlying bytes: it is a lens a caller applies to the buffer a
// BufferPoolManager hands back from NewPage or FetchPage.
type SlottedPage struct {
	data []byte
}

// NewSlottedPage wraps data (typically a pinned frame's buffer) for
// slotted access. data is not copied.
func NewSlottedPage(data []byte) *SlottedPage {
	return &SlottedPage{data: data}
}

// Init writes an empty page's header into data, discarding any prior content.
func (sp *SlottedPage) Init() {
	sp.setSlotCount(0)
	sp.setFreeSpacePointer(uint16(len(sp.data)))
	sp.SetLSN(0)
}

// LSN returns the log sequence number last stamped into the page header by
// SetLSN. Unlike BufferPoolManager's per-frame LSN bookkeeping, which is
// lost the moment a frame is reused for another page, this one travels
// with the page's bytes and survives a flush and a later read back from
// disk.
func (sp *SlottedPage) LSN() LSN {
	return LSN(binary.LittleEndian.Uint64(sp.data[lsnOffset : lsnOffset+lsnFieldSize]))
}

// SetLSN stamps lsn into the page header. Callers writing a page through
// the buffer pool are expected to call this before unpinning dirty, the
// same way BufferPoolManager.SetPageLSN records it for the in-memory frame.
func (sp *SlottedPage) SetLSN(lsn LSN) {
	binary.LittleEndian.PutUint64(sp.data[lsnOffset:lsnOffset+lsnFieldSize], uint64(lsn))
}

// InsertTuple appends tuple and returns its slot id, reusing the first
// unused slot if one exists. It compacts the page once before giving up.
func (sp *SlottedPage) InsertTuple(tuple []byte) (uint16, error) {
	slotID := sp.findSlotID()
	if !sp.isAvailableSpace(slotID, len(tuple)) {
		if !sp.isAvailableTotalSpace(slotID, len(tuple)) {
			return 0, ErrPageFull
		}
		sp.compact()
	}
	sp.insertTuple(slotID, tuple)
	return slotID, nil
}

// findSlotID returns the first unused slot, or a fresh slot past the end.
func (sp *SlottedPage) findSlotID() uint16 {
	slotCount := sp.slotCount()
	for i := uint16(0); i < slotCount; i++ {
		if _, _, flags := sp.unpackSlot(i); flags == slotUnused {
			return i
		}
	}
	return slotCount
}

// isAvailableSpace is a cheap check against the gap between the slot
// directory and the free space pointer.
func (sp *SlottedPage) isAvailableSpace(slotID uint16, tupleLen int) bool {
	slotCount := sp.slotCount()
	freeSpacePointer := sp.freeSpacePointer()
	slotsEndPointer := headerSize + slotSize*slotCount
	newSlotSize := uint16(slotSize)
	if slotID < slotCount {
		newSlotSize = 0
	}
	return (freeSpacePointer - slotsEndPointer) >= uint16(tupleLen)+newSlotSize
}

// isAvailableTotalSpace accounts for dead/unused tuple space that a
// compaction would reclaim.
func (sp *SlottedPage) isAvailableTotalSpace(slotID uint16, tupleLen int) bool {
	slotCount := sp.slotCount()
	var liveTuplesSize uint16
	for i := uint16(0); i < slotCount; i++ {
		_, length, flags := sp.unpackSlot(i)
		if flags != slotUnused {
			liveTuplesSize += length
		}
	}

	availableTotalSpace := uint16(len(sp.data)) - uint16(headerSize) - slotCount*slotSize - liveTuplesSize
	newSlotSize := uint16(slotSize)
	if slotID < slotCount {
		newSlotSize = 0
	}
	return availableTotalSpace >= uint16(tupleLen)+newSlotSize
}

func (sp *SlottedPage) insertTuple(slotID uint16, tuple []byte) {
	slotCount := sp.slotCount()
	freeSpacePointer := sp.freeSpacePointer()
	newSlotPointer := headerSize + slotSize*slotID

	copy(sp.data[freeSpacePointer-uint16(len(tuple)):freeSpacePointer], tuple)
	writeSlot(freeSpacePointer-uint16(len(tuple)), len(tuple), slotUsed, sp.data[newSlotPointer:newSlotPointer+slotSize])

	sp.setFreeSpacePointer(freeSpacePointer - uint16(len(tuple)))
	if slotID >= slotCount {
		sp.setSlotCount(slotCount + 1)
	}
}

func (sp *SlottedPage) compact() {
	type liveTuple struct {
		slotID uint16
		flags  slotFlag
		tuple  []byte
	}
	var live []liveTuple

	for i, slotCount := uint16(0), sp.slotCount(); i < slotCount; i++ {
		offset, length, flags := sp.unpackSlot(i)
		if flags != slotUnused {
			tupleCopy := make([]byte, length)
			copy(tupleCopy, sp.data[offset:offset+length])
			live = append(live, liveTuple{slotID: i, flags: flags, tuple: tupleCopy})
		}
	}

	freeSpacePointer := uint16(len(sp.data))
	for _, lt := range live {
		copy(sp.data[freeSpacePointer-uint16(len(lt.tuple)):freeSpacePointer], lt.tuple)

		pointerToSlot := headerSize + slotSize*lt.slotID
		writeSlot(freeSpacePointer-uint16(len(lt.tuple)), len(lt.tuple), lt.flags, sp.data[pointerToSlot:pointerToSlot+slotSize])

		freeSpacePointer -= uint16(len(lt.tuple))
	}
	sp.setFreeSpacePointer(freeSpacePointer)
}

// GetTuple returns the bytes stored at slotID.
func (sp *SlottedPage) GetTuple(slotID uint16) ([]byte, error) {
	if slotID >= sp.slotCount() {
		return nil, fmt.Errorf("slotID %d is out of bounds", slotID)
	}
	offset, length, _ := sp.unpackSlot(slotID)
	return sp.data[offset : offset+length], nil
}

// DeleteTuple marks a slot dead. The slot is not reused by later inserts,
// and its bytes keep their space in the page: compaction keeps dead tuples
// just like used ones. Only SetTupleAsUnused frees a slot and its space.
func (sp *SlottedPage) DeleteTuple(slotID uint16) error {
	return sp.setFlagToSlot(slotID, slotDead)
}

// SetTupleAsUnused marks a slot free for immediate reuse by a later insert.
func (sp *SlottedPage) SetTupleAsUnused(slotID uint16) error {
	return sp.setFlagToSlot(slotID, slotUnused)
}

func (sp *SlottedPage) setFlagToSlot(slotID uint16, flag slotFlag) error {
	if slotID >= sp.slotCount() {
		return fmt.Errorf("slotID %d is out of bounds", slotID)
	}
	pointerToSlot := headerSize + slotSize*slotID
	slot := sp.data[pointerToSlot : pointerToSlot+slotSize]
	val := binary.LittleEndian.Uint32(slot)
	val = val &^ 3
	val |= uint32(flag)
	binary.LittleEndian.PutUint32(slot, val)
	return nil
}

func (sp *SlottedPage) setSlotCount(c uint16) {
	binary.LittleEndian.PutUint16(sp.data[slotCountOffset:slotCountOffset+slotCountSize], c)
}

func (sp *SlottedPage) slotCount() uint16 {
	return binary.LittleEndian.Uint16(sp.data[slotCountOffset : slotCountOffset+slotCountSize])
}

func (sp *SlottedPage) setFreeSpacePointer(p uint16) {
	binary.LittleEndian.PutUint16(sp.data[freeSpacePointerOffset:freeSpacePointerOffset+freeSpacePointerSize], p)
}

func (sp *SlottedPage) freeSpacePointer() uint16 {
	return binary.LittleEndian.Uint16(sp.data[freeSpacePointerOffset : freeSpacePointerOffset+freeSpacePointerSize])
}

// unpackSlot decodes the packed [offset(15) | length(15) | flags(2)] slot entry.
func (sp *SlottedPage) unpackSlot(slotID uint16) (offset uint16, length uint16, flags slotFlag) {
	pointerToSlot := headerSize + slotSize*slotID
	slot := sp.data[pointerToSlot : pointerToSlot+slotSize]
	val := binary.LittleEndian.Uint32(slot)

	offset = uint16(val >> 17)
	length = uint16(val>>2) & 0x7FFF
	flags = slotFlag(val) & 3
	return
}

func writeSlot(offset uint16, length int, flags slotFlag, data []byte) {
	packed := (uint32(offset) << 17) | (uint32(length) << 2) | uint32(flags)
	binary.LittleEndian.PutUint32(data, packed)
}
