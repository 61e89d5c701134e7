// Package example shows the kind of caller SmallObjAllocator targets:
// node-based containers that allocate and free a high volume of
// fixed-shape small objects.
package example

import (
	"errors"

	"github.com/arenapool/smallobj"
)

// ErrStackOverflow is returned by Push when the pool reports
// smallobj.ErrOutOfMemory.
var ErrStackOverflow = errors.New("example: stack overflow")

// ErrStackUnderflow is returned by Pop when the stack is empty.
var ErrStackUnderflow = errors.New("example: stack underflow")

// Stack is a singly-linked stack whose nodes are carved out of a
// SmallObjAllocator rather than the Go heap. Every Push/Pop pair touches
// exactly one size class, so after a short warmup the pool serves every
// operation from already-carved blocks.
type Stack[T any] struct {
	pool *smallobj.SmallObjAllocator
	top  *stackNode[T]
}

type stackNode[T any] struct {
	value T
	prev  *stackNode[T]
}

// NewStack returns a stack backed by a new SmallObjAllocator configured
// with the given chunk size.
func NewStack[T any](chunkSize uint32) *Stack[T] {
	return &Stack[T]{
		pool: smallobj.New(chunkSize, chunkSize, smallobj.VariantOrderedMap, nil),
	}
}

// Push copies item onto the stack.
func (s *Stack[T]) Push(item T) error {
	node, err := smallobj.AllocateT[stackNode[T]](s.pool)
	if err != nil {
		if errors.Is(err, smallobj.ErrOutOfMemory) {
			return ErrStackOverflow
		}
		return err
	}

	node.value = item
	node.prev = s.top
	s.top = node

	return nil
}

// Pop removes and returns the most recently pushed item.
func (s *Stack[T]) Pop() (T, error) {
	if s.top == nil {
		var zero T
		return zero, ErrStackUnderflow
	}

	node := s.top
	value := node.value
	s.top = node.prev

	if err := smallobj.DeallocateT(s.pool, node); err != nil {
		return value, err
	}

	return value, nil
}

// Close releases every block the stack's pool is still holding onto. The
// stack must be empty first.
func (s *Stack[T]) Close() error {
	return s.pool.Release()
}
