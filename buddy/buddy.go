// Package buddy implements a binary buddy allocator over a caller-supplied,
// page-granular memory region.
//
// The pool hands out power-of-two-sized contiguous blocks ("ranks": a rank r
// block spans PageSize << (r-1) bytes) and eagerly coalesces freed buddies
// back into larger blocks. Block metadata lives in a fixed header at the
// start of each block inside the managed region itself; a side index of one
// entry per page makes buddy lookup and rank queries cheap.
//
// A Pool performs no locking. The caller serializes access; concurrent use
// without external synchronization is undefined.
package buddy

import (
	"fmt"
	"unsafe"
)

type pageState uint8

const (
	pageInterior pageState = iota // inside a block, not its first page
	pageFree
	pageAllocated
)

// pageInfo mirrors the header of the block starting at a page, or marks the
// page as interior. It exists so buddy lookup on free and RankOf never scan
// a free list.
type pageInfo struct {
	state pageState
	rank  uint8
}

// Pool is a buddy allocator over a fixed byte range. The range, its page
// count and the derived max rank are fixed at construction; the pool lives
// for the life of the process.
type Pool struct {
	base       unsafe.Pointer
	totalPages int
	size       uint64 // totalPages * PageSize
	maxRank    int

	// freeLists[r] is the offset of the first free block of rank r, or
	// nullOffset. Blocks link through their headers.
	freeLists  [MaxRank + 1]uint64
	freeCounts [MaxRank + 1]int

	// pages holds one entry per page, keyed by block start.
	pages []pageInfo
}

// New creates a pool managing pageCount pages starting at base. The whole
// range is seeded into the free lists: the largest aligned block first, then
// any non-power-of-two tail as blocks of strictly decreasing rank, so every
// page is reachable by Alloc.
func New(base unsafe.Pointer, pageCount int) (*Pool, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil base address", ErrInvalidArgument)
	}
	if pageCount <= 0 {
		return nil, fmt.Errorf("%w: page count must be positive, got %d", ErrInvalidArgument, pageCount)
	}

	p := &Pool{
		base:       base,
		totalPages: pageCount,
		size:       uint64(pageCount) * PageSize,
		maxRank:    maxRankFor(pageCount),
		pages:      make([]pageInfo, pageCount),
	}
	for r := range p.freeLists {
		p.freeLists[r] = nullOffset
	}

	for off := uint64(0); off < p.size; {
		r := p.seedRankAt(off)
		p.pushFree(r, off)
		off += RankSize(r)
	}
	return p, nil
}

// Alloc returns a pointer to the payload of a fresh block of the given
// rank. The block spans RankSize(rank) bytes including its header, starts
// at an offset aligned to its own size and overlaps no other live block.
// Rank outside [1, MaxRank] is ErrInvalidArgument; a rank the pool cannot
// represent, or one no free block can satisfy, is ErrOutOfMemory.
func (p *Pool) Alloc(rank int) (unsafe.Pointer, error) {
	if rank < 1 || rank > MaxRank {
		return nil, fmt.Errorf("%w: rank %d outside [1, %d]", ErrInvalidArgument, rank, MaxRank)
	}
	if rank > p.maxRank {
		return nil, fmt.Errorf("%w: rank %d exceeds pool max rank %d", ErrOutOfMemory, rank, p.maxRank)
	}

	donor := rank
	for donor <= p.maxRank && p.freeLists[donor] == nullOffset {
		donor++
	}
	if donor > p.maxRank {
		return nil, fmt.Errorf("%w: no free block of rank %d or above", ErrOutOfMemory, rank)
	}

	off := p.freeLists[donor]
	p.unlinkFree(donor, off)

	// Split down to the requested rank. The lower half keeps the block
	// start, the upper half goes back as free one rank below.
	for donor > rank {
		donor--
		p.pushFree(donor, off+RankSize(donor))
	}

	h := p.headerAt(off)
	h.state = allocatedMagic
	h.rank = uint32(rank)
	p.pages[off>>pageShift] = pageInfo{state: pageAllocated, rank: uint8(rank)}

	return unsafe.Add(p.base, uintptr(off)+HeaderSize), nil
}

// Free returns the block whose payload ptr points at, merging it with its
// buddy repeatedly while the buddy is free at the same rank. ptr must be a
// value previously returned by Alloc and not yet freed; anything else is
// ErrInvalidArgument.
func (p *Pool) Free(ptr unsafe.Pointer) error {
	off, err := p.blockOffset(ptr)
	if err != nil {
		return err
	}
	h := p.headerAt(off)
	if h.state != allocatedMagic {
		return fmt.Errorf("%w: pointer %p is not an allocated block", ErrInvalidArgument, ptr)
	}

	// The stored rank is authoritative; different allocations carry
	// different ranks and guessing one corrupts the free lists.
	rank := int(h.rank)
	if rank < 1 || rank > p.maxRank || off&(RankSize(rank)-1) != 0 {
		return fmt.Errorf("%w: corrupted block header at offset %#x", ErrInvalidArgument, off)
	}
	// Payload bytes can spell a valid-looking header at an interior page
	// boundary; the page index lives outside the arena and cannot be
	// forged, so both must agree.
	if info := p.pages[off>>pageShift]; info.state != pageAllocated || int(info.rank) != rank {
		return fmt.Errorf("%w: pointer %p is not an allocated block", ErrInvalidArgument, ptr)
	}

	for rank < p.maxRank {
		bud := buddyOffset(off, rank)
		if bud+RankSize(rank) > p.size {
			break // buddy lies beyond a non-power-of-two tail
		}
		info := p.pages[bud>>pageShift]
		if info.state != pageFree || int(info.rank) != rank {
			break
		}
		p.unlinkFree(rank, bud)
		p.pages[bud>>pageShift] = pageInfo{}
		p.pages[off>>pageShift] = pageInfo{}
		if bud < off {
			off = bud
		}
		rank++
	}

	p.pushFree(rank, off)
	return nil
}

// blockOffset validates that ptr is a plausible payload pointer and returns
// the offset of the enclosing block start.
func (p *Pool) blockOffset(ptr unsafe.Pointer) (uint64, error) {
	if ptr == nil {
		return 0, fmt.Errorf("%w: nil pointer", ErrInvalidArgument)
	}
	if uintptr(ptr) < uintptr(p.base) {
		return 0, fmt.Errorf("%w: pointer %p outside the pool", ErrInvalidArgument, ptr)
	}
	d := uint64(uintptr(ptr) - uintptr(p.base))
	if d >= p.size || d < HeaderSize {
		return 0, fmt.Errorf("%w: pointer %p outside the pool", ErrInvalidArgument, ptr)
	}
	off := d - HeaderSize
	if off&(PageSize-1) != 0 {
		return 0, fmt.Errorf("%w: misaligned pointer %p", ErrInvalidArgument, ptr)
	}
	return off, nil
}

// MaxRank returns the largest rank this pool can allocate.
func (p *Pool) MaxRank() int { return p.maxRank }

// TotalPages returns the number of pages under management.
func (p *Pool) TotalPages() int { return p.totalPages }

// Size returns the managed range in bytes.
func (p *Pool) Size() uint64 { return p.size }
