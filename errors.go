package smallobj

import "errors"

// ErrOutOfMemory is returned when the host allocator or a Chunk's backing
// slab cannot satisfy a request.
var ErrOutOfMemory = errors.New("smallobj: out of memory")

// ErrForeignPointer is returned by FixedAllocatorV2.Deallocate when the
// pointer does not belong to any Chunk owned by the allocator. The
// vector-backed FixedAllocatorV1 does not return it: its vicinity search
// visits every Chunk without finding the pointer, and Deallocate panics.
var ErrForeignPointer = errors.New("smallobj: pointer not owned by this allocator")

// ErrBlockSizeTooLarge is returned when a requested block size exceeds the
// allocator's preferred chunk size, so that not even one block would fit
// in a chunk. Earlier designs fell back to an oversized chunk (N = 8*B) in
// this situation; this implementation rejects it instead.
var ErrBlockSizeTooLarge = errors.New("smallobj: block size exceeds preferred chunk size")

// ErrSizeMismatch is returned when Deallocate is called with a byte count
// that does not match any pool entry and the host-allocator threshold
// does not apply either. Honoring this as a caller precondition violation
// would be equally valid, but returning it lets tests exercise the path
// without panicking.
var ErrSizeMismatch = errors.New("smallobj: deallocate size does not match any known size class")

// ErrOutstandingAllocations is returned by a FixedAllocator's Release
// when one of its Chunks still has blocks handed out to a caller.
var ErrOutstandingAllocations = errors.New("smallobj: release called with outstanding allocations")
