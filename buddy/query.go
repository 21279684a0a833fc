package buddy

import (
	"fmt"
	"unsafe"
)

// RankOf returns the rank of the block containing ptr, free or allocated.
// ptr may point anywhere inside the block, including at an Alloc payload.
// Pointers outside the pool are ErrInvalidArgument.
func (p *Pool) RankOf(ptr unsafe.Pointer) (int, error) {
	if ptr == nil {
		return 0, fmt.Errorf("%w: nil pointer", ErrInvalidArgument)
	}
	if uintptr(ptr) < uintptr(p.base) {
		return 0, fmt.Errorf("%w: pointer %p outside the pool", ErrInvalidArgument, ptr)
	}
	off := uint64(uintptr(ptr) - uintptr(p.base))
	if off >= p.size {
		return 0, fmt.Errorf("%w: pointer %p outside the pool", ErrInvalidArgument, ptr)
	}

	// A rank r block starts at an offset aligned to its own size, so the
	// containing block's start is off aligned down at the block's rank.
	// Walking ranks upward, the first aligned-down offset the page index
	// records as a block start of that exact rank is the containing
	// block: any other recorded start at or below off would lie inside
	// it, and blocks never nest.
	for r := 1; r <= p.maxRank; r++ {
		start := off &^ (RankSize(r) - 1)
		info := p.pages[start>>pageShift]
		if info.state != pageInterior && int(info.rank) == r {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: no block found for pointer %p", ErrInvalidArgument, ptr)
}

// FreeCount returns the number of free blocks currently held at exactly the
// given rank. Counts blocks, not pages or bytes. Rank outside [1, MaxRank]
// is ErrInvalidArgument; a rank the pool cannot represent counts zero.
func (p *Pool) FreeCount(rank int) (int, error) {
	if rank < 1 || rank > MaxRank {
		return 0, fmt.Errorf("%w: rank %d outside [1, %d]", ErrInvalidArgument, rank, MaxRank)
	}
	if rank > p.maxRank {
		return 0, nil
	}
	return p.freeCounts[rank], nil
}

// Available returns the total bytes currently sitting in free lists,
// headers included.
func (p *Pool) Available() uint64 {
	var total uint64
	for r := 1; r <= p.maxRank; r++ {
		total += uint64(p.freeCounts[r]) * RankSize(r)
	}
	return total
}
