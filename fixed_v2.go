package smallobj

import (
	"unsafe"

	"golang.org/x/exp/slices"
)

// FixedAllocatorV2 is the deque-and-ordered-map FixedAllocator. Chunks
// are appended to a stable-address slice (never removed from the middle,
// so pointers into it stay valid), and a sorted slice keyed by slab base
// address stands in for an ordered map, giving O(log N) pointer-to-Chunk
// lookup under arbitrary deallocation order.
//
// Chunks that become fully empty are moved out of the map into a
// freeChunks cache for O(1) amortized reuse, and numFullChunks lets
// Allocate short-circuit the "does any Chunk have room" question without
// scanning every Chunk.
type FixedAllocatorV2 struct {
	blockSize uint32
	numBlocks uint8

	numFullChunks int

	chunks     []*Chunk
	chunkMap   []chunkMapEntry
	freeChunks []*Chunk

	allocChunk   *Chunk
	deallocChunk *Chunk
}

type chunkMapEntry struct {
	base  uintptr
	chunk *Chunk
}

func compareEntryToAddr(e chunkMapEntry, addr uintptr) int {
	switch {
	case e.base < addr:
		return -1
	case e.base > addr:
		return 1
	default:
		return 0
	}
}

// NewFixedAllocatorV2 creates a FixedAllocator for blocks of the given
// size, sizing each Chunk's block count from chunkSize.
func NewFixedAllocatorV2(blockSize, chunkSize uint32) (*FixedAllocatorV2, error) {
	numBlocks, err := computeNumBlocks(blockSize, chunkSize)
	if err != nil {
		return nil, err
	}
	return &FixedAllocatorV2{
		blockSize: blockSize,
		numBlocks: numBlocks,
	}, nil
}

// BlockSize returns the fixed block size this allocator carves.
func (f *FixedAllocatorV2) BlockSize() uint32 {
	return f.blockSize
}

// Allocate returns the address of a freshly unlinked block.
//
// The order of operations here matters: numFullChunks is incremented
// before the free-chunk-cache and all-full checks, so that those checks
// see an accurate count of full chunks for the chunk that's about to be
// replaced as allocChunk. The increment only applies when allocChunk is
// non-nil going into the slow path, i.e. the previous allocChunk was
// actually full (blocksAvailable == 0): a nil allocChunk also results
// from Deallocate evicting a chunk that just became empty, and that
// case must not be counted as a chunk becoming full. numFullChunks thus
// counts every full chunk except the current allocChunk.
func (f *FixedAllocatorV2) Allocate() (unsafe.Pointer, error) {
	wasFull := f.allocChunk != nil

	if f.allocChunk == nil || f.allocChunk.blocksAvailable == 0 {
		if wasFull {
			f.numFullChunks++
		}

		switch {
		case len(f.freeChunks) > 0:
			c := f.freeChunks[len(f.freeChunks)-1]
			f.freeChunks = f.freeChunks[:len(f.freeChunks)-1]
			f.chunkMapInsert(c)
			f.allocChunk = c

		case f.numFullChunks == len(f.chunks):
			c := &Chunk{}
			if err := c.init(f.blockSize, f.numBlocks); err != nil {
				if wasFull {
					f.numFullChunks--
				}
				return nil, err
			}
			f.chunks = append(f.chunks, c)
			f.chunkMapInsert(c)
			f.allocChunk = c
			if f.deallocChunk == nil {
				f.deallocChunk = f.chunks[0]
			}

		default:
			f.allocChunk = nil
			for _, e := range f.chunkMap {
				if e.chunk.blocksAvailable > 0 {
					f.allocChunk = e.chunk
					break
				}
			}
			if f.allocChunk == nil {
				panic("smallobj: FixedAllocatorV2: no chunk with room despite numFullChunks < len(chunks)")
			}
		}
	}

	return f.allocChunk.allocate(f.blockSize), nil
}

// Deallocate locates the owning Chunk by finding the greatest chunkMap
// key less than or equal to addr(p) (the predecessor of p's upper
// bound). A pointer with no such predecessor, or one whose owning
// Chunk's slab doesn't actually contain it, is foreign to this
// allocator.
func (f *FixedAllocatorV2) Deallocate(p unsafe.Pointer) error {
	addr := uintptr(p)

	c, ok := f.chunkMapFloor(addr)
	if !ok {
		return ErrForeignPointer
	}

	base := c.baseAddr()
	end := base + uintptr(f.numBlocks)*uintptr(f.blockSize)
	if addr < base || addr >= end {
		return ErrForeignPointer
	}

	// A full allocChunk has not been added to numFullChunks yet (Allocate
	// counts it only when moving off it), so it is not subtracted either.
	wasCounted := c.blocksAvailable == 0 && c != f.allocChunk
	f.deallocChunk = c

	if err := c.deallocate(p, f.blockSize); err != nil {
		return err
	}

	if c.blocksAvailable == f.numBlocks {
		f.chunkMapRemove(c)
		f.freeChunks = append(f.freeChunks, c)
		f.deallocChunk = f.chunks[0]

		// allocChunk is a bare hint with no self-validating lookup: if it
		// still pointed at c, leaving it in place would let the next
		// Allocate call's fast path hand out blocks from a chunk that
		// chunkMap no longer knows about, instead of going through the
		// freeChunks cache and re-registering it. See chunkMapFloor's
		// note on Chunks parked in freeChunks for the failure this would
		// otherwise cause.
		if f.allocChunk == c {
			f.allocChunk = nil
		}
	}

	if wasCounted {
		f.numFullChunks--
	}

	return nil
}

// chunkMapFloor returns the Chunk with the greatest base address <= addr,
// or false if every entry's base exceeds addr (or the map is empty).
//
// A Chunk currently parked in freeChunks has no entry in chunkMap at all.
// That's fine under the deallocate contract: every pointer a caller can
// legally hand back came from a Chunk that had at least one outstanding
// block, which by construction cannot be in freeChunks.
func (f *FixedAllocatorV2) chunkMapFloor(addr uintptr) (*Chunk, bool) {
	idx, found := slices.BinarySearchFunc(f.chunkMap, addr, compareEntryToAddr)
	if found {
		return f.chunkMap[idx].chunk, true
	}
	if idx == 0 {
		return nil, false
	}
	return f.chunkMap[idx-1].chunk, true
}

func (f *FixedAllocatorV2) chunkMapInsert(c *Chunk) {
	base := c.baseAddr()
	idx, found := slices.BinarySearchFunc(f.chunkMap, base, compareEntryToAddr)
	if found {
		panic("smallobj: FixedAllocatorV2: chunk already registered in chunkMap")
	}
	f.chunkMap = slices.Insert(f.chunkMap, idx, chunkMapEntry{base: base, chunk: c})
}

func (f *FixedAllocatorV2) chunkMapRemove(c *Chunk) {
	base := c.baseAddr()
	idx, found := slices.BinarySearchFunc(f.chunkMap, base, compareEntryToAddr)
	if !found {
		panic("smallobj: FixedAllocatorV2: chunk missing from chunkMap")
	}
	f.chunkMap = slices.Delete(f.chunkMap, idx, idx+1)
}

// Release frees every Chunk's slab, including those cached in
// freeChunks. It returns ErrOutstandingAllocations, without freeing
// anything, if any Chunk still has blocks outstanding.
func (f *FixedAllocatorV2) Release() error {
	for _, c := range f.chunks {
		if c.blocksAvailable != f.numBlocks {
			return ErrOutstandingAllocations
		}
	}

	for _, c := range f.chunks {
		c.release()
	}
	f.chunks = nil
	f.chunkMap = nil
	f.freeChunks = nil
	f.allocChunk = nil
	f.deallocChunk = nil
	f.numFullChunks = 0
	return nil
}
