package smallobj

import (
	"unsafe"

	"golang.org/x/exp/slices"
)

// Variant selects which FixedAllocator implementation a SmallObjAllocator
// creates for each size class it encounters.
type Variant int

const (
	// VariantOrderedMap uses FixedAllocatorV2 (deque + ordered map),
	// which stays fast under pointer access patterns that defeat
	// vicinity search. This is the default.
	VariantOrderedMap Variant = iota

	// VariantVector uses FixedAllocatorV1 (vector + vicinity search),
	// which is cheaper for allocation/deallocation trends with strong
	// locality (bulk, same-order, reverse-order, or butterfly frees).
	VariantVector
)

// Default construction parameters, matching the historical defaults.
const (
	DefaultChunkSize  = 4096
	DefaultMaxObjSize = 256
)

// HostAllocator is the fallback allocator SmallObjAllocator delegates to
// for requests above maxObjSize. A nil host passed to New defaults to
// goHostAllocator, which just lets the Go runtime and garbage collector
// own the memory.
type HostAllocator interface {
	Malloc(size uintptr) (unsafe.Pointer, error)
	Free(p unsafe.Pointer, size uintptr)
}

// SmallObjAllocator dispatches allocation requests of n bytes to the
// FixedAllocator responsible for blocks of size n, creating one on first
// use, and falls back to a HostAllocator for requests above maxObjSize.
//
// A SmallObjAllocator is not safe for concurrent use.
type SmallObjAllocator struct {
	chunkSize  uint32
	maxObjSize uint32
	variant    Variant
	host       HostAllocator

	// pool is sorted ascending by BlockSize(), with at most one entry
	// per distinct size.
	pool []FixedAllocator

	lastAlloc   FixedAllocator
	lastDealloc FixedAllocator
}

// New creates a SmallObjAllocator. A chunkSize or maxObjSize of 0 uses
// the corresponding default. host may be nil, in which case requests
// above maxObjSize are served by the Go runtime directly.
func New(chunkSize, maxObjSize uint32, variant Variant, host HostAllocator) *SmallObjAllocator {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if maxObjSize == 0 {
		maxObjSize = DefaultMaxObjSize
	}
	if host == nil {
		host = goHostAllocator{}
	}
	return &SmallObjAllocator{
		chunkSize:  chunkSize,
		maxObjSize: maxObjSize,
		variant:    variant,
		host:       host,
	}
}

func blockSizeOfEntry(f FixedAllocator, size uint32) int {
	switch {
	case f.BlockSize() < size:
		return -1
	case f.BlockSize() > size:
		return 1
	default:
		return 0
	}
}

// Allocate returns the address of at least n writable bytes. n == 0
// yields a nil address. Requests above maxObjSize are served by the host
// allocator unchanged.
func (s *SmallObjAllocator) Allocate(n uint32) (unsafe.Pointer, error) {
	if n == 0 {
		return nil, nil
	}
	if n > s.maxObjSize {
		return s.host.Malloc(uintptr(n))
	}

	if s.lastAlloc != nil && s.lastAlloc.BlockSize() == n {
		return s.lastAlloc.Allocate()
	}

	idx, found := slices.BinarySearchFunc(s.pool, n, blockSizeOfEntry)
	if !found {
		fa, err := s.newFixedAllocator(n)
		if err != nil {
			return nil, err
		}
		s.pool = slices.Insert(s.pool, idx, fa)
	}

	s.lastAlloc = s.pool[idx]
	return s.lastAlloc.Allocate()
}

// Deallocate returns a block of size n, previously returned by Allocate,
// to the pool. Deallocating a nil address is a no-op. n must equal the
// size originally passed to Allocate; this is a caller precondition. The
// only size check made here is that n names an existing size class:
// otherwise Deallocate returns ErrSizeMismatch.
func (s *SmallObjAllocator) Deallocate(p unsafe.Pointer, n uint32) error {
	if p == nil {
		return nil
	}
	if n > s.maxObjSize {
		s.host.Free(p, uintptr(n))
		return nil
	}

	if s.lastDealloc != nil && s.lastDealloc.BlockSize() == n {
		return s.lastDealloc.Deallocate(p)
	}

	idx, found := slices.BinarySearchFunc(s.pool, n, blockSizeOfEntry)
	if !found {
		return ErrSizeMismatch
	}

	s.lastDealloc = s.pool[idx]
	return s.lastDealloc.Deallocate(p)
}

func (s *SmallObjAllocator) newFixedAllocator(blockSize uint32) (FixedAllocator, error) {
	switch s.variant {
	case VariantVector:
		return NewFixedAllocatorV1(blockSize, s.chunkSize)
	default:
		return NewFixedAllocatorV2(blockSize, s.chunkSize)
	}
}

// Release releases every FixedAllocator in the pool. It stops and
// returns ErrOutstandingAllocations on the first one that still has
// outstanding allocations, leaving that allocator and any after it
// in the pool untouched.
func (s *SmallObjAllocator) Release() error {
	for _, fa := range s.pool {
		if err := fa.Release(); err != nil {
			return err
		}
	}
	s.pool = nil
	s.lastAlloc = nil
	s.lastDealloc = nil
	return nil
}

// AllocateT allocates space for one T through s, zeroing it first.
func AllocateT[T any](s *SmallObjAllocator) (*T, error) {
	size := unsafe.Sizeof(*new(T))
	p, err := s.Allocate(uint32(size))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	clear(unsafe.Slice((*byte)(p), size))
	return (*T)(p), nil
}

// DeallocateT returns a *T obtained from AllocateT to s.
func DeallocateT[T any](s *SmallObjAllocator, p *T) error {
	if p == nil {
		return nil
	}
	size := unsafe.Sizeof(*new(T))
	return s.Deallocate(unsafe.Pointer(p), uint32(size))
}
