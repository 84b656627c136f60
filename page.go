package ebtree

import (
	"encoding/binary"
)

// pageFlags identifies a page's type. Exactly one type bit is ever set (§3).
type pageFlags uint16

const (
	flagBranch   pageFlags = 0x01
	flagLeaf     pageFlags = 0x02
	flagOverflow pageFlags = 0x04
	flagMeta     pageFlags = 0x08

	flagTypeMask = flagBranch | flagLeaf | flagOverflow | flagMeta
)

func (f pageFlags) String() string {
	switch f & flagTypeMask {
	case flagBranch:
		return "branch"
	case flagLeaf:
		return "leaf"
	case flagOverflow:
		return "overflow"
	case flagMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// page is a decoded view over one fixed-size page's raw bytes. It never
// copies Data; callers that need to mutate a page already hold the dirty
// copy produced by COW in the write transaction (§3 Ownership).
type page struct {
	Data []byte
}

// page header layout, see SPEC_FULL.md §3 "Concrete wire layout".
const (
	offPgno        = 0
	offFlags       = 8
	offNumKeys     = 10
	offLower       = 12
	offUpper       = 14
	offOverflowRun = 16
	offChecksum    = 20
	offNextLeaf    = 24
)

func (p *page) pageNo() pgno {
	return pgno(binary.LittleEndian.Uint64(p.Data[offPgno:]))
}

func (p *page) setPageNo(id pgno) {
	binary.LittleEndian.PutUint64(p.Data[offPgno:], uint64(id))
}

func (p *page) flags() pageFlags {
	return pageFlags(binary.LittleEndian.Uint16(p.Data[offFlags:]))
}

func (p *page) setFlags(f pageFlags) {
	binary.LittleEndian.PutUint16(p.Data[offFlags:], uint16(f))
}

func (p *page) isBranch() bool   { return p.flags()&flagBranch != 0 }
func (p *page) isLeaf() bool     { return p.flags()&flagLeaf != 0 }
func (p *page) isOverflow() bool { return p.flags()&flagOverflow != 0 }
func (p *page) isMeta() bool     { return p.flags()&flagMeta != 0 }

func (p *page) numKeys() int {
	return int(binary.LittleEndian.Uint16(p.Data[offNumKeys:]))
}

func (p *page) setNumKeys(n int) {
	binary.LittleEndian.PutUint16(p.Data[offNumKeys:], uint16(n))
}

func (p *page) lower() uint16 { return binary.LittleEndian.Uint16(p.Data[offLower:]) }
func (p *page) setLower(v uint16) {
	binary.LittleEndian.PutUint16(p.Data[offLower:], v)
}

func (p *page) upper() uint16 { return binary.LittleEndian.Uint16(p.Data[offUpper:]) }
func (p *page) setUpper(v uint16) {
	binary.LittleEndian.PutUint16(p.Data[offUpper:], v)
}

func (p *page) overflowRun() uint32 {
	return binary.LittleEndian.Uint32(p.Data[offOverflowRun:])
}

func (p *page) setOverflowRun(n uint32) {
	binary.LittleEndian.PutUint32(p.Data[offOverflowRun:], n)
}

func (p *page) checksum() uint32 { return binary.LittleEndian.Uint32(p.Data[offChecksum:]) }
func (p *page) setChecksum(c uint32) {
	binary.LittleEndian.PutUint32(p.Data[offChecksum:], c)
}

func (p *page) nextLeaf() pgno {
	return pgno(binary.LittleEndian.Uint64(p.Data[offNextLeaf:]))
}

func (p *page) setNextLeaf(id pgno) {
	binary.LittleEndian.PutUint64(p.Data[offNextLeaf:], uint64(id))
}

// slotsStart returns the byte offset where the slot array begins: right
// after the fixed header, or after the branch header's leftmost-child
// pointer for BRANCH pages (§3 invariant on branch layout).
func (p *page) slotsStart() int {
	if p.isBranch() {
		return pageHeaderSize + branchHeaderSize
	}
	return pageHeaderSize
}

func (p *page) leftmostChild() pgno {
	return pgno(binary.LittleEndian.Uint64(p.Data[pageHeaderSize:]))
}

func (p *page) setLeftmostChild(id pgno) {
	binary.LittleEndian.PutUint64(p.Data[pageHeaderSize:], uint64(id))
}

// initPage formats a fresh page of the given type.
func initPage(data []byte, id pgno, flags pageFlags) *page {
	p := &page{Data: data}
	for i := range data {
		data[i] = 0
	}
	p.setPageNo(id)
	p.setFlags(flags)
	p.setNumKeys(0)
	start := pageHeaderSize
	if flags&flagBranch != 0 {
		start += branchHeaderSize
		p.setLeftmostChild(invalidPgno)
	}
	p.setLower(uint16(start))
	p.setUpper(uint16(len(data)))
	p.setNextLeaf(invalidPgno)
	return p
}

// slotOffset returns the absolute byte offset of the node at slot idx.
func (p *page) slotOffset(idx int) uint16 {
	pos := p.slotsStart() + idx*2
	return binary.LittleEndian.Uint16(p.Data[pos:])
}

func (p *page) setSlotOffset(idx int, off uint16) {
	pos := p.slotsStart() + idx*2
	binary.LittleEndian.PutUint16(p.Data[pos:], off)
}

// freeSpace is the number of unused bytes between the slot array and the heap.
func (p *page) freeSpace() int {
	return int(p.upper()) - int(p.lower())
}

// usedFraction is the utilization ratio used by the fill-factor policy (§4.1.1).
func (p *page) usedFraction(pageSize int) float64 {
	used := pageSize - p.freeSpace() - pageHeaderSize
	denom := pageSize - pageHeaderSize
	if denom <= 0 {
		return 1
	}
	return float64(used) / float64(denom)
}

// fillFactorLimit returns the adaptive utilization ceiling for the current
// key count, per §4.1.1.
func fillFactorLimit(numKeys int) float64 {
	switch {
	case numKeys <= 5:
		return 0.98
	case numKeys <= 15:
		return 0.96
	case numKeys <= 30:
		return 0.94
	default:
		return 0.92
	}
}

// hasRoomFor reports whether a node of nodeSize bytes can be added without
// violating the fill-factor policy, and whether doing so would merit a
// proactive split (utilization would exceed 0.85).
func (p *page) hasRoomFor(nodeSize int, pageSize int) (ok bool, proactiveSplit bool) {
	required := 2 + nodeSize // slot entry + node bytes
	if p.freeSpace() < required {
		return false, false
	}
	projectedUsed := (pageSize - p.freeSpace() - pageHeaderSize) + required
	denom := pageSize - pageHeaderSize
	projectedFraction := float64(projectedUsed) / float64(denom)
	if projectedFraction > fillFactorLimit(p.numKeys()+1) {
		return false, false
	}
	return true, projectedFraction > 0.85
}

// nodeAt returns the node bytes at slot idx (header + key + payload).
func (p *page) nodeAt(idx int) []byte {
	off := p.slotOffset(idx)
	return p.Data[off:]
}

// insertSlot makes room for, and records, a new slot pointing at off at
// sorted position idx, shifting later slots right.
func (p *page) insertSlot(idx int, off uint16) {
	n := p.numKeys()
	start := p.slotsStart()
	src := start + idx*2
	if idx < n {
		dst := src + 2
		size := (n - idx) * 2
		copy(p.Data[dst:dst+size], p.Data[src:src+size])
	}
	p.setSlotOffset(idx, off)
	p.setLower(p.lower() + 2)
	p.setNumKeys(n + 1)
}

// removeSlotAt drops the slot at idx, shifting later slots left. The node
// bytes it pointed to are left as a hole in the heap (§4.1 remove_node).
func (p *page) removeSlotAt(idx int) {
	n := p.numKeys()
	start := p.slotsStart()
	if idx < n-1 {
		src := start + (idx+1)*2
		dst := start + idx*2
		size := (n - 1 - idx) * 2
		copy(p.Data[dst:dst+size], p.Data[src:src+size])
	}
	p.setLower(p.lower() - 2)
	p.setNumKeys(n - 1)
}

// allocHeap reserves size bytes at the top of the heap (upper shrinks,
// rounded down to even per §3) and returns the offset of the reservation.
func (p *page) allocHeap(size int) uint16 {
	newUpper := int(p.upper()) - size
	if newUpper%2 != 0 {
		newUpper--
	}
	p.setUpper(uint16(newUpper))
	return uint16(newUpper)
}

// addNodeSorted writes nodeData into the heap and inserts a slot for it at
// the sorted position idx (caller has already located idx via searchKey).
// Returns false if the fill-factor policy or available space rejects the
// insert; caller must then split (§4.1, §4.7).
func (p *page) addNodeSorted(idx int, nodeData []byte, pageSize int) bool {
	ok, _ := p.hasRoomFor(len(nodeData), pageSize)
	if !ok {
		return false
	}
	off := p.allocHeap(len(nodeData))
	copy(p.Data[off:], nodeData)
	p.insertSlot(idx, off)
	return true
}

// removeNode deletes the node at slot idx.
func (p *page) removeNode(idx int) {
	p.removeSlotAt(idx)
}

// searchKey performs a binary search for key among this page's slots using
// cmp. It returns (idx, true) when key is present at idx, or (insertPos,
// false) otherwise (§4.1 search_key).
func (p *page) searchKey(key []byte, cmp CmpFunc) (int, bool) {
	lo, hi := 0, p.numKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		k := nodeKey(p.nodeAt(mid))
		c := cmp(k, key)
		if c == 0 {
			return mid, true
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}
