// Package pagealloc exposes a process-wide buddy page allocator over a raw
// memory range supplied by the embedding kernel or runtime.
//
// The package-level functions operate on a single default pool established
// by Init, matching the one-allocator-per-process contract of the
// surrounding system. Code that needs independent pools uses buddy.New
// directly. The caller serializes all calls; no function here locks, blocks
// or logs.
package pagealloc

import (
	"fmt"
	"unsafe"

	"github.com/memkit/pagealloc/buddy"
)

// Constants and error sentinels of the buddy core, re-exported for callers
// of the package-level surface.
const (
	PageSize   = buddy.PageSize
	MaxRank    = buddy.MaxRank
	HeaderSize = buddy.HeaderSize
)

var (
	ErrInvalidArgument = buddy.ErrInvalidArgument
	ErrOutOfMemory     = buddy.ErrOutOfMemory

	// ErrNotInitialized is returned when Alloc, Free or RankOf run before
	// Init. It wraps ErrInvalidArgument, so callers matching only the
	// broad kind still catch it.
	ErrNotInitialized = fmt.Errorf("%w: allocator not initialized", buddy.ErrInvalidArgument)
)

var defaultPool *buddy.Pool

// Init seeds the process-wide pool with pageCount pages starting at base.
// It must be called exactly once before any other operation; a second call
// is rejected rather than silently discarding outstanding allocations.
func Init(base unsafe.Pointer, pageCount int) error {
	if defaultPool != nil {
		return fmt.Errorf("%w: allocator already initialized", ErrInvalidArgument)
	}
	p, err := buddy.New(base, pageCount)
	if err != nil {
		return err
	}
	defaultPool = p
	return nil
}

// Alloc allocates a block of the given rank from the default pool and
// returns its payload pointer.
func Alloc(rank int) (unsafe.Pointer, error) {
	if defaultPool == nil {
		return nil, ErrNotInitialized
	}
	return defaultPool.Alloc(rank)
}

// Free returns a block previously obtained from Alloc to the default pool.
func Free(ptr unsafe.Pointer) error {
	if defaultPool == nil {
		return ErrNotInitialized
	}
	return defaultPool.Free(ptr)
}

// RankOf returns the rank of the block containing ptr.
func RankOf(ptr unsafe.Pointer) (int, error) {
	if defaultPool == nil {
		return 0, ErrNotInitialized
	}
	return defaultPool.RankOf(ptr)
}

// FreeCount returns the number of free blocks at exactly the given rank.
// Before Init an in-range rank counts zero without error; an out-of-range
// rank is still ErrInvalidArgument.
func FreeCount(rank int) (int, error) {
	if defaultPool == nil {
		if rank < 1 || rank > MaxRank {
			return 0, fmt.Errorf("%w: rank %d outside [1, %d]", ErrInvalidArgument, rank, MaxRank)
		}
		return 0, nil
	}
	return defaultPool.FreeCount(rank)
}

// reset drops the default pool so tests can exercise Init repeatedly.
func reset() {
	defaultPool = nil
}
