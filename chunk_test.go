package smallobj

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkInitThreadsFreeList(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var c Chunk
	require.NoError(c.init(8, 5))

	assert.EqualValues(5, c.blocksAvailable)
	assert.EqualValues(0, c.firstAvailableBlock)

	for i := 0; i < 4; i++ {
		assert.Equal(byte(i+1), c.data[i*8])
	}
}

func TestChunkAllocateDeallocateRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var c Chunk
	require.NoError(c.init(16, 10))

	var ptrs []unsafe.Pointer
	for i := 0; i < 10; i++ {
		p := c.allocate(16)
		require.NotNil(p)
		ptrs = append(ptrs, p)
	}
	assert.EqualValues(0, c.blocksAvailable)

	for _, p := range ptrs {
		require.NoError(c.deallocate(p, 16))
	}
	assert.EqualValues(10, c.blocksAvailable)

	// Every block should be addressable and reusable again.
	seen := map[unsafe.Pointer]bool{}
	for i := 0; i < 10; i++ {
		p := c.allocate(16)
		assert.False(seen[p], "block handed out twice: %v", p)
		seen[p] = true
	}
}

func TestChunkDeallocateForeignPointer(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var c Chunk
	require.NoError(c.init(16, 4))

	var stackVar [16]byte
	err := c.deallocate(unsafe.Pointer(&stackVar[0]), 16)
	assert.ErrorIs(err, ErrForeignPointer)
}

func TestChunkDeallocateUnalignedPanics(t *testing.T) {
	require := require.New(t)

	var c Chunk
	require.NoError(c.init(16, 4))

	p := c.allocate(16)
	misaligned := unsafe.Pointer(uintptr(p) + 1)

	assert.Panics(t, func() {
		_ = c.deallocate(misaligned, 16)
	})
}

func TestChunkContainsAndRelease(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var c Chunk
	require.NoError(c.init(16, 4))

	p := c.allocate(16)
	assert.True(c.contains(p))

	c.release()
	assert.False(c.contains(p))
	assert.EqualValues(0, c.blocksAvailable)
}
