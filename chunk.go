package smallobj

import (
	"fmt"
	"unsafe"
)

// maxBlocksPerChunk mirrors the historical C++ design's unsigned-char block
// index: a Chunk can never carve more than 255 blocks, since the free
// list threads block indices through the blocks themselves using a
// single byte per link.
const maxBlocksPerChunk = 255

// Chunk is a single memory slab carved into a fixed number of equal-sized
// blocks. The free blocks form a singly-linked list whose links live
// inside the blocks themselves: the first byte of a free block holds the
// index of the next free block. All of the free-list pointer arithmetic
// lives here; the FixedAllocator variants only turn pointers into
// addresses for chunk lookup and slab-bounds checks.
//
// A Chunk is not safe for concurrent use.
type Chunk struct {
	data                []byte
	firstAvailableBlock uint8
	blocksAvailable     uint8
}

// init lays out blockSize*numBlocks bytes of backing storage and threads
// the free list through it: block i's first byte stores i+1, so the whole
// slab starts out as one long chain of free blocks.
func (c *Chunk) init(blockSize uint32, numBlocks uint8) error {
	if numBlocks == 0 {
		return fmt.Errorf("smallobj: chunk requires at least one block")
	}

	size := int(blockSize) * int(numBlocks)

	buf, err := allocSlab(size)
	if err != nil {
		return err
	}

	for i := 0; i < int(numBlocks); i++ {
		buf[i*int(blockSize)] = byte(i + 1)
	}

	c.data = buf
	c.firstAvailableBlock = 0
	c.blocksAvailable = numBlocks
	return nil
}

// allocSlab is split out from init so a slab failure never leaves c
// partially initialized; make panics on real exhaustion rather than
// returning an error, so the only realistic failure here is a caller
// asking for an impossible size, which is guarded by computeNumBlocks
// before init is ever called.
func allocSlab(size int) ([]byte, error) {
	if size <= 0 || size > maxBlocksPerChunk*(1<<24) {
		return nil, ErrOutOfMemory
	}
	return make([]byte, size), nil
}

// allocate unlinks and returns the head of the free list. The caller
// (FixedAllocator) guarantees blocksAvailable > 0.
func (c *Chunk) allocate(blockSize uint32) unsafe.Pointer {
	off := int(c.firstAvailableBlock) * int(blockSize)
	p := unsafe.Pointer(&c.data[off])
	c.firstAvailableBlock = c.data[off]
	c.blocksAvailable--
	return p
}

// deallocate relinks block p into the head of the free list. The caller
// guarantees p lies within this Chunk's slab and is block-aligned; see
// offsetOf for the checks actually performed.
func (c *Chunk) deallocate(p unsafe.Pointer, blockSize uint32) error {
	idx, err := c.offsetOf(p, blockSize)
	if err != nil {
		return err
	}

	off := idx * int(blockSize)
	c.data[off] = c.firstAvailableBlock
	c.firstAvailableBlock = uint8(idx)
	c.blocksAvailable++
	return nil
}

// contains reports whether p lies anywhere within this Chunk's slab,
// regardless of block alignment.
func (c *Chunk) contains(p unsafe.Pointer) bool {
	if len(c.data) == 0 {
		return false
	}
	addr := uintptr(p)
	base := c.baseAddr()
	return addr >= base && addr < base+uintptr(len(c.data))
}

// offsetOf validates that p is block-aligned within the slab and returns
// its block index.
func (c *Chunk) offsetOf(p unsafe.Pointer, blockSize uint32) (int, error) {
	if !c.contains(p) {
		return 0, ErrForeignPointer
	}
	delta := uintptr(p) - c.baseAddr()
	if delta%uintptr(blockSize) != 0 {
		panic(fmt.Sprintf("smallobj: deallocate of unaligned pointer %v (block size %d)", p, blockSize))
	}
	return int(delta / uintptr(blockSize)), nil
}

// baseAddr returns the numeric address of the slab's first byte. It is
// used as the sort key for FixedAllocatorV2's chunkMap and for vicinity
// bounds checks in FixedAllocatorV1.
func (c *Chunk) baseAddr() uintptr {
	if len(c.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&c.data[0]))
}

// release invalidates the slab. The Chunk must not be used again
// afterward.
func (c *Chunk) release() {
	c.data = nil
	c.firstAvailableBlock = 0
	c.blocksAvailable = 0
}
