// Package arena provides backing memory for allocator pools in userspace,
// where no kernel hands the caller a raw range. The region is allocated
// without zeroing: the allocator stamps block headers before anything reads
// it.
package arena

import (
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/memkit/pagealloc/buddy"
)

// Arena owns a page-granular byte range. It keeps the backing slice
// reachable for as long as the Arena itself is, since pools hold only a raw
// base pointer.
type Arena struct {
	buf   []byte
	pages int
}

// New allocates an arena of the given page count.
func New(pages int) (*Arena, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("%w: page count must be positive, got %d", buddy.ErrInvalidArgument, pages)
	}
	size := pages * buddy.PageSize
	return &Arena{buf: dirtmake.Bytes(size, size), pages: pages}, nil
}

// Base returns the start of the managed range.
func (a *Arena) Base() unsafe.Pointer { return unsafe.Pointer(&a.buf[0]) }

// Pages returns the arena size in pages.
func (a *Arena) Pages() int { return a.pages }

// Bytes returns the whole backing range.
func (a *Arena) Bytes() []byte { return a.buf }
