package example

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stackTestItem struct {
	Int   int
	Float float64
}

func TestStack(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	stack := NewStack[stackTestItem](4096)

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(stack.Push(stackTestItem{
			Int:   i,
			Float: float64(i),
		}))
	}

	for i := n - 1; i >= 0; i-- {
		item, err := stack.Pop()
		if assert.NoError(err) {
			assert.Equal(i, item.Int)
			assert.Equal(float64(i), item.Float)
		}
	}

	_, err := stack.Pop()
	assert.ErrorIs(err, ErrStackUnderflow)

	require.NoError(stack.Close())
}

func TestGraph(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	g := NewGraph(4096)

	a, err := g.AddNode()
	require.NoError(err)
	b, err := g.AddNode()
	require.NoError(err)
	c, err := g.AddNode()
	require.NoError(err)

	require.NoError(g.AddEdge(a, b))
	require.NoError(g.AddEdge(a, c))
	require.NoError(g.AddEdge(b, c))

	assert.ElementsMatch([]int{c, b}, g.Neighbors(a))
	assert.Equal([]int{c}, g.Neighbors(b))
	assert.Empty(g.Neighbors(c))

	require.NoError(g.Close())
}
