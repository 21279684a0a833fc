// Package bitmap implements the page-granular predecessor of the buddy
// allocator: one bit per page, single-page allocations only. It is kept for
// callers that predate the rank interface and as a simpler baseline; new
// code uses the buddy pool.
package bitmap

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/memkit/pagealloc/buddy"
)

const pageSize = buddy.PageSize

// Allocator tracks page usage in a bitmap held outside the managed range.
// A next-fit cursor keeps repeated allocations from rescanning the front of
// a mostly-full map.
type Allocator struct {
	base      unsafe.Pointer
	pageCount int

	// words holds one bit per page; set means allocated. Tail bits past
	// pageCount are pre-set so the scan never has to bounds-check them.
	words    []uint64
	nextWord int

	freePages int
}

// New creates a bitmap allocator managing pageCount pages starting at base.
func New(base unsafe.Pointer, pageCount int) (*Allocator, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil base address", buddy.ErrInvalidArgument)
	}
	if pageCount <= 0 {
		return nil, fmt.Errorf("%w: page count must be positive, got %d", buddy.ErrInvalidArgument, pageCount)
	}

	a := &Allocator{
		base:      base,
		pageCount: pageCount,
		words:     make([]uint64, (pageCount+63)/64),
		freePages: pageCount,
	}
	for i := pageCount; i < len(a.words)*64; i++ {
		a.words[i>>6] |= 1 << (i & 63)
	}
	return a, nil
}

// AllocPage returns a pointer to the start of a free page, or
// ErrOutOfMemory when every page is taken.
func (a *Allocator) AllocPage() (unsafe.Pointer, error) {
	if a.freePages == 0 {
		return nil, fmt.Errorf("%w: no free page", buddy.ErrOutOfMemory)
	}

	w := a.nextWord
	for i := 0; i < len(a.words); i++ {
		if a.words[w] != ^uint64(0) {
			bit := bits.TrailingZeros64(^a.words[w])
			a.words[w] |= 1 << bit
			a.nextWord = w
			a.freePages--
			return unsafe.Add(a.base, (w*64+bit)*pageSize), nil
		}
		w++
		if w == len(a.words) {
			w = 0
		}
	}
	return nil, fmt.Errorf("%w: no free page", buddy.ErrOutOfMemory)
}

// FreePage returns the page at ptr to the allocator. ptr must be a value
// previously returned by AllocPage and not yet freed.
func (a *Allocator) FreePage(ptr unsafe.Pointer) error {
	if ptr == nil || uintptr(ptr) < uintptr(a.base) {
		return fmt.Errorf("%w: pointer %p outside the managed range", buddy.ErrInvalidArgument, ptr)
	}
	off := uint64(uintptr(ptr) - uintptr(a.base))
	if off >= uint64(a.pageCount)*pageSize {
		return fmt.Errorf("%w: pointer %p outside the managed range", buddy.ErrInvalidArgument, ptr)
	}
	if off&(pageSize-1) != 0 {
		return fmt.Errorf("%w: pointer %p is not page aligned", buddy.ErrInvalidArgument, ptr)
	}

	idx := int(off / pageSize)
	mask := uint64(1) << (idx & 63)
	if a.words[idx>>6]&mask == 0 {
		return fmt.Errorf("%w: page %d is not allocated", buddy.ErrInvalidArgument, idx)
	}
	a.words[idx>>6] &^= mask
	a.freePages++
	return nil
}

// FreePages returns the number of pages currently free.
func (a *Allocator) FreePages() int { return a.freePages }

// TotalPages returns the number of pages under management.
func (a *Allocator) TotalPages() int { return a.pageCount }
