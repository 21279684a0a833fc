package buddy

import "errors"

// The allocator reports exactly two failure kinds. Malformed input,
// pointers outside the pool and misuse of the contract are
// ErrInvalidArgument; a well-formed request that no free block can satisfy
// is ErrOutOfMemory. Errors wrap these sentinels, so callers match with
// errors.Is.
var (
	ErrInvalidArgument = errors.New("pagealloc: invalid argument")
	ErrOutOfMemory     = errors.New("pagealloc: out of memory")
)
