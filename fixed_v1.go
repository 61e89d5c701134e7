package smallobj

import (
	"fmt"
	"unsafe"
)

// FixedAllocatorV1 is the vector-backed FixedAllocator: Chunks live in a
// contiguous slice, Allocate falls back to a linear scan when its cached
// allocChunk is exhausted, and Deallocate locates the owning Chunk with a
// vicinity search that expands outward from the last Chunk a
// deallocation touched.
//
// Multiple FixedAllocatorV1 values can share one underlying Chunk
// collection via Duplicate, standing in for the original's circular
// intrusive list of aliases: the Chunks are only released once the last
// alias is Released. This lets the allocator be embedded in
// value-semantic containers without premature deallocation.
type FixedAllocatorV1 struct {
	state *v1State
}

type v1State struct {
	blockSize uint32
	numBlocks uint8

	chunks []*Chunk

	allocChunk   *Chunk
	deallocChunk *Chunk
	deallocIdx   int

	refs int
}

// NewFixedAllocatorV1 creates a FixedAllocator for blocks of the given
// size, sizing each Chunk's block count from chunkSize.
func NewFixedAllocatorV1(blockSize, chunkSize uint32) (*FixedAllocatorV1, error) {
	numBlocks, err := computeNumBlocks(blockSize, chunkSize)
	if err != nil {
		return nil, err
	}
	return &FixedAllocatorV1{
		state: &v1State{
			blockSize:  blockSize,
			numBlocks:  numBlocks,
			deallocIdx: -1,
			refs:       1,
		},
	}, nil
}

// Duplicate returns a new FixedAllocatorV1 sharing this one's Chunk
// collection. Releasing one alias never invalidates the slabs the other
// aliases are still using; only the last alias standing actually frees
// memory.
func (f *FixedAllocatorV1) Duplicate() *FixedAllocatorV1 {
	f.state.refs++
	return &FixedAllocatorV1{state: f.state}
}

// BlockSize returns the fixed block size this allocator carves.
func (f *FixedAllocatorV1) BlockSize() uint32 {
	return f.state.blockSize
}

// Allocate returns the address of a freshly unlinked block, growing the
// Chunk collection if every existing Chunk is full.
func (f *FixedAllocatorV1) Allocate() (unsafe.Pointer, error) {
	s := f.state

	if s.allocChunk == nil || s.allocChunk.blocksAvailable == 0 {
		var found *Chunk
		for _, c := range s.chunks {
			if c.blocksAvailable > 0 {
				found = c
				break
			}
		}

		if found == nil {
			nc := &Chunk{}
			if err := nc.init(s.blockSize, s.numBlocks); err != nil {
				return nil, err
			}
			s.chunks = append(s.chunks, nc)
			found = nc
			if s.deallocChunk == nil {
				s.deallocChunk = nc
				s.deallocIdx = len(s.chunks) - 1
			}
		}

		s.allocChunk = found
	}

	return s.allocChunk.allocate(s.blockSize), nil
}

// Deallocate locates the Chunk owning p via vicinity search starting from
// the last Chunk a deallocation touched, then applies the chunk-release
// heuristic: at most one empty Chunk is kept around, always at the tail,
// to avoid thrashing between allocating and releasing Chunks under bulk
// churn.
func (f *FixedAllocatorV1) Deallocate(p unsafe.Pointer) error {
	s := f.state

	if len(s.chunks) == 0 {
		panic("smallobj: FixedAllocatorV1.Deallocate called with no chunks")
	}

	c := s.vicinityFind(p)
	if c == nil {
		panic(fmt.Sprintf("smallobj: FixedAllocatorV1.Deallocate: pointer %v not found by vicinity search", p))
	}

	s.deallocChunk = c

	if err := c.deallocate(p, s.blockSize); err != nil {
		return err
	}

	if c.blocksAvailable == s.numBlocks {
		s.releaseEmpty(c)
	}

	return nil
}

// vicinityFind expands outward from deallocIdx, one step toward the
// front and one toward the back per iteration, returning the first Chunk
// whose slab contains p. Locality in the caller's free pattern keeps
// this near O(1) on average; a pointer that belongs to no Chunk in this
// allocator causes the search to exhaust both directions and return nil,
// which the caller treats as a precondition violation.
func (s *v1State) vicinityFind(p unsafe.Pointer) *Chunk {
	chunkLen := uintptr(s.blockSize) * uintptr(s.numBlocks)

	low := s.deallocIdx
	high := s.deallocIdx + 1

	for low >= 0 || high < len(s.chunks) {
		if low >= 0 {
			if pointerWithinChunk(p, s.chunks[low], chunkLen) {
				s.deallocIdx = low
				return s.chunks[low]
			}
			low--
		}
		if high < len(s.chunks) {
			if pointerWithinChunk(p, s.chunks[high], chunkLen) {
				s.deallocIdx = high
				return s.chunks[high]
			}
			high++
		}
	}

	return nil
}

// releaseEmpty implements the two-empty-chunks release rule: c has just
// become fully empty and sits at s.deallocIdx.
func (s *v1State) releaseEmpty(c *Chunk) {
	lastIdx := len(s.chunks) - 1
	last := s.chunks[lastIdx]

	if c == last {
		if len(s.chunks) > 1 && s.chunks[lastIdx-1].blocksAvailable == s.numBlocks {
			last.release()
			s.chunks = s.chunks[:lastIdx]
			s.allocChunk = s.chunks[0]
			s.deallocChunk = s.chunks[0]
			s.deallocIdx = 0
		}
		return
	}

	if last.blocksAvailable == s.numBlocks {
		last.release()
		s.chunks = s.chunks[:lastIdx]
		lastIdx--
		s.allocChunk = c
		if s.deallocIdx == lastIdx {
			return
		}
	}

	// Keep empties at the tail so vicinity search stays effective over
	// the non-empty body of the collection.
	s.chunks[s.deallocIdx], s.chunks[lastIdx] = s.chunks[lastIdx], s.chunks[s.deallocIdx]
	s.deallocIdx = lastIdx
	s.allocChunk = c
}

// Release frees every Chunk's slab, unless another alias created via
// Duplicate is still live, in which case this alias just detaches, even
// while blocks are outstanding. Only the last alias checks the Chunks: it
// returns ErrOutstandingAllocations, without detaching or freeing
// anything, if any Chunk still has blocks outstanding.
func (f *FixedAllocatorV1) Release() error {
	s := f.state

	if s.refs == 1 {
		for _, c := range s.chunks {
			if c.blocksAvailable != s.numBlocks {
				return ErrOutstandingAllocations
			}
		}
	}

	s.refs--
	if s.refs > 0 {
		return nil
	}

	for _, c := range s.chunks {
		c.release()
	}
	s.chunks = nil
	s.allocChunk = nil
	s.deallocChunk = nil
	return nil
}
