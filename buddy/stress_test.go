package buddy

import (
	"testing"
	"unsafe"

	"github.com/bytedance/gopkg/lang/fastrand"
	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/stretchr/testify/require"
)

// verifyPoolInvariants checks that the block forest exactly tiles the pool:
// every byte belongs to one block, block starts are size-aligned, headers
// and the page index agree, free buddies are always merged and the free
// lists are well-linked with accurate counts.
func verifyPoolInvariants(t *testing.T, p *Pool) {
	t.Helper()

	var counts [MaxRank + 1]int
	for off := uint64(0); off < p.size; {
		info := p.pages[off>>pageShift]
		require.NotEqual(t, pageInterior, info.state, "offset %#x does not start a block", off)

		rank := int(info.rank)
		require.GreaterOrEqual(t, rank, 1)
		require.LessOrEqual(t, rank, p.maxRank)
		require.Zero(t, off&(RankSize(rank)-1), "offset %#x misaligned for rank %d", off, rank)

		h := p.headerAt(off)
		require.Equal(t, uint32(rank), h.rank, "header rank mismatch at %#x", off)

		if info.state == pageFree {
			require.Equal(t, freeMagic, h.state, "free block at %#x lacks free magic", off)
			counts[rank]++
			if rank < p.maxRank {
				bud := buddyOffset(off, rank)
				if bud+RankSize(rank) <= p.size {
					bi := p.pages[bud>>pageShift]
					require.False(t, bi.state == pageFree && int(bi.rank) == rank,
						"unmerged free buddies %#x and %#x at rank %d", off, bud, rank)
				}
			}
		} else {
			require.Equal(t, allocatedMagic, h.state, "allocated block at %#x lacks alloc magic", off)
		}

		for pg := off>>pageShift + 1; pg < (off+RankSize(rank))>>pageShift; pg++ {
			require.Equal(t, pageInterior, p.pages[pg].state, "page %d should be interior", pg)
		}
		off += RankSize(rank)
	}

	for r := 1; r <= p.maxRank; r++ {
		n := 0
		prev := nullOffset
		for off := p.freeLists[r]; off != nullOffset; off = p.headerAt(off).next {
			h := p.headerAt(off)
			require.Equal(t, freeMagic, h.state)
			require.Equal(t, uint32(r), h.rank)
			require.Equal(t, prev, h.prev, "broken prev link at %#x rank %d", off, r)
			prev = off
			n++
		}
		require.Equal(t, counts[r], n, "free list length mismatch at rank %d", r)
		require.Equal(t, p.freeCounts[r], n, "free counter mismatch at rank %d", r)
	}
}

func TestInvariantsAfterSeeding(t *testing.T) {
	for _, pages := range []int{1, 3, 7, 8, 13, 16, 100, 1000} {
		p := newTestPool(t, pages)
		verifyPoolInvariants(t, p)
	}
}

// checkedLen is how much of each payload is filled and hashed.
const checkedLen = 128

type liveBlock struct {
	ptr unsafe.Pointer
	sum uint64
}

func fillPayload(ptr unsafe.Pointer) uint64 {
	buf := unsafe.Slice((*byte)(ptr), checkedLen)
	for i := range buf {
		buf[i] = byte(fastrand.Uint32())
	}
	return xxhash3.Hash(buf)
}

func checkPayload(t *testing.T, b liveBlock) {
	t.Helper()
	buf := unsafe.Slice((*byte)(b.ptr), checkedLen)
	require.Equal(t, b.sum, xxhash3.Hash(buf), "payload of block %p was clobbered", b.ptr)
}

// TestStressRandom drives a long random alloc/free sequence, checking that
// payloads never get clobbered by allocator bookkeeping and that the pool
// invariants hold throughout.
func TestStressRandom(t *testing.T) {
	const pages = 1 << 10 // 4MB
	const iterations = 5000

	p := newTestPool(t, pages)
	seeded := freeCountsOf(t, p)

	var live []liveBlock
	for i := 0; i < iterations; i++ {
		allocate := fastrand.Intn(2) == 0 && len(live) < 512
		if !allocate && len(live) == 0 {
			allocate = true
		}

		if allocate {
			rank := 1 + fastrand.Intn(4)
			ptr, err := p.Alloc(rank)
			if err != nil {
				require.ErrorIs(t, err, ErrOutOfMemory)
				continue
			}
			got, err := p.RankOf(ptr)
			require.NoError(t, err)
			require.Equal(t, rank, got)
			live = append(live, liveBlock{ptr: ptr, sum: fillPayload(ptr)})
		} else {
			victim := fastrand.Intn(len(live))
			b := live[victim]
			checkPayload(t, b)
			require.NoError(t, p.Free(b.ptr))
			live[victim] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		if i%500 == 0 {
			verifyPoolInvariants(t, p)
		}
	}

	for _, b := range live {
		checkPayload(t, b)
		require.NoError(t, p.Free(b.ptr))
	}

	verifyPoolInvariants(t, p)
	require.Equal(t, seeded, freeCountsOf(t, p))
	require.Equal(t, uint64(pages*PageSize), p.Available())
}
