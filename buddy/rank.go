package buddy

const (
	// PageSize is the allocation granularity. Every block is a
	// power-of-two multiple of PageSize.
	PageSize = 4096

	// MaxRank is the largest supported size class. A rank r block spans
	// PageSize << (r-1) bytes, so rank 16 is 128MB.
	MaxRank = 16

	pageShift = 12 // log2(PageSize)
)

// RankSize returns the byte size of a block of the given rank.
// Rank must be in [1, MaxRank].
func RankSize(rank int) uint64 {
	return PageSize << (rank - 1)
}

// buddyOffset returns the offset of the unique buddy of the block at off
// with the given rank. The relation is symmetric: flipping the block-size
// bit maps each half of a rank+1 block onto the other.
func buddyOffset(off uint64, rank int) uint64 {
	return off ^ RankSize(rank)
}

// maxRankFor returns the largest rank whose block fits within pageCount
// pages, capped at MaxRank.
func maxRankFor(pageCount int) int {
	r := 1
	for r < MaxRank && RankSize(r+1) <= uint64(pageCount)*PageSize {
		r++
	}
	return r
}

// seedRankAt returns the largest rank, capped at the pool max rank, whose
// block both fits in the remaining tail and is size-aligned at off. Used by
// pool seeding to decompose an arbitrary page count into maximal blocks so
// that no tail capacity is stranded outside the free lists.
func (p *Pool) seedRankAt(off uint64) int {
	remaining := p.size - off
	r := p.maxRank
	for RankSize(r) > remaining || off&(RankSize(r)-1) != 0 {
		r--
	}
	return r
}
