package buddy

import "unsafe"

const (
	// HeaderSize is the bookkeeping prefix at the start of every block.
	// The payload returned by Alloc starts HeaderSize bytes past the
	// block start, so a rank r block carries RankSize(r)-HeaderSize
	// usable bytes.
	HeaderSize = 24

	// State magics detect double frees and foreign or interior pointers
	// handed to Free.
	allocatedMagic uint32 = 0xA110C8ED
	freeMagic      uint32 = 0xF4EEB10C

	nullOffset = ^uint64(0)
)

// blockHeader lives at the start of every block, free or allocated. rank is
// stamped on every state transition and read back verbatim on free; it is
// never recomputed from the pointer. next and prev are pool offsets linking
// the block into its rank's free list and are meaningful only while free.
type blockHeader struct {
	state uint32
	rank  uint32
	next  uint64
	prev  uint64
}

func (p *Pool) headerAt(off uint64) *blockHeader {
	return (*blockHeader)(unsafe.Add(p.base, uintptr(off)))
}

// pushFree stamps the block at off as a free block of the given rank and
// links it at the head of that rank's list.
func (p *Pool) pushFree(rank int, off uint64) {
	h := p.headerAt(off)
	h.state = freeMagic
	h.rank = uint32(rank)
	h.prev = nullOffset
	h.next = p.freeLists[rank]
	if h.next != nullOffset {
		p.headerAt(h.next).prev = off
	}
	p.freeLists[rank] = off
	p.freeCounts[rank]++
	p.pages[off>>pageShift] = pageInfo{state: pageFree, rank: uint8(rank)}
}

// unlinkFree removes the free block at off from its rank's list. The caller
// decides the block's next state and page-index entry.
func (p *Pool) unlinkFree(rank int, off uint64) {
	h := p.headerAt(off)
	if h.prev != nullOffset {
		p.headerAt(h.prev).next = h.next
	} else {
		p.freeLists[rank] = h.next
	}
	if h.next != nullOffset {
		p.headerAt(h.next).prev = h.prev
	}
	p.freeCounts[rank]--
}
