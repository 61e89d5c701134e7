package smallobj

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmallObjAllocatorZeroAndNil(t *testing.T) {
	assert := assert.New(t)

	s := New(0, 0, VariantOrderedMap, nil)

	p, err := s.Allocate(0)
	assert.NoError(err)
	assert.Nil(p)

	assert.NoError(s.Deallocate(nil, 16))
}

func TestSmallObjAllocatorTwoSizeInterleave(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := New(0, 0, VariantOrderedMap, nil)

	var sixteens, twentyFours []unsafe.Pointer
	for i := 0; i < 100; i++ {
		p, err := s.Allocate(16)
		require.NoError(err)
		sixteens = append(sixteens, p)

		q, err := s.Allocate(24)
		require.NoError(err)
		twentyFours = append(twentyFours, q)
	}

	require.Len(s.pool, 2)
	assert.EqualValues(16, s.pool[0].BlockSize())
	assert.EqualValues(24, s.pool[1].BlockSize())

	for _, p := range sixteens {
		require.NoError(s.Deallocate(p, 16))
	}
	for _, p := range twentyFours {
		require.NoError(s.Deallocate(p, 24))
	}

	require.NoError(s.Release())
}

func TestSmallObjAllocatorFallbackDoesNotCreatePoolEntry(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := New(0, 64, VariantOrderedMap, nil)

	small, err := s.Allocate(32)
	require.NoError(err)

	large, err := s.Allocate(128)
	require.NoError(err)
	require.NotNil(large)

	assert.Len(s.pool, 1)
	assert.EqualValues(32, s.pool[0].BlockSize())

	require.NoError(s.Deallocate(small, 32))
	require.NoError(s.Deallocate(large, 128))
	require.NoError(s.Release())
}

func TestSmallObjAllocatorPoolStaysSortedAsSizesArriveOutOfOrder(t *testing.T) {
	require := require.New(t)

	s := New(0, 0, VariantOrderedMap, nil)

	sizes := []uint32{48, 16, 32, 8, 24}
	for _, sz := range sizes {
		_, err := s.Allocate(sz)
		require.NoError(err)
	}

	require.Len(s.pool, len(sizes))
	for i := 1; i < len(s.pool); i++ {
		require.Less(s.pool[i-1].BlockSize(), s.pool[i].BlockSize())
	}
}

func TestSmallObjAllocatorDeallocateSizeMismatch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := New(0, 0, VariantOrderedMap, nil)
	p, err := s.Allocate(16)
	require.NoError(err)

	err = s.Deallocate(p, 17)
	assert.ErrorIs(err, ErrSizeMismatch)
}

func TestSmallObjAllocatorRandomWorkloadBothVariants(t *testing.T) {
	for _, variant := range []Variant{VariantOrderedMap, VariantVector} {
		variant := variant
		t.Run(variantName(variant), func(t *testing.T) {
			require := require.New(t)

			s := New(0, 512, variant, nil)
			rnd := rand.New(rand.NewSource(42))

			type record struct {
				p unsafe.Pointer
				n uint32
			}
			var live []record

			sizes := []uint32{8, 16, 24, 32, 64, 100, 1024}

			for i := 0; i < 5000; i++ {
				if len(live) == 0 || rnd.Intn(2) == 0 {
					n := sizes[rnd.Intn(len(sizes))]
					p, err := s.Allocate(n)
					require.NoError(err)
					live = append(live, record{p, n})
				} else {
					idx := rnd.Intn(len(live))
					rec := live[idx]
					live = append(live[:idx], live[idx+1:]...)
					require.NoError(s.Deallocate(rec.p, rec.n))
				}
			}

			for _, rec := range live {
				require.NoError(s.Deallocate(rec.p, rec.n))
			}

			require.NoError(s.Release())
		})
	}
}

func variantName(v Variant) string {
	if v == VariantVector {
		return "vector"
	}
	return "orderedmap"
}

// countingHostAllocator wraps goHostAllocator to confirm that requests
// above maxObjSize reach a caller-supplied HostAllocator instead of the
// default.
type countingHostAllocator struct {
	mallocs, frees int
}

func (h *countingHostAllocator) Malloc(size uintptr) (unsafe.Pointer, error) {
	h.mallocs++
	return goHostAllocator{}.Malloc(size)
}

func (h *countingHostAllocator) Free(p unsafe.Pointer, size uintptr) {
	h.frees++
}

func TestSmallObjAllocatorUsesSuppliedHostAllocator(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	host := &countingHostAllocator{}
	s := New(0, 64, VariantOrderedMap, host)

	p, err := s.Allocate(1024)
	require.NoError(err)
	require.NotNil(p)

	require.NoError(s.Deallocate(p, 1024))
	assert.Equal(1, host.mallocs)
	assert.Equal(1, host.frees)
}
