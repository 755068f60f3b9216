// storage provides an append only log with O(1) worst case pushes, written by a single goroutine.
//
// Elements are grouped in fixed size blocks chained from the newest to the oldest one. A full block is
// never written again and never moved, so readers may walk the chain while its owner keeps pushing
// into the head block.
package storage

import (
	"sync/atomic"
)

// BlockSize is the number of elements held by each block of the chain
const BlockSize = 10_000

type block[T any] struct {
	data []T
	// n is published after data[n-1] is written so readers never see a half written element
	n    atomic.Int64
	prev *block[T]
}

func newBlock[T any](prev *block[T]) *block[T] {
	return &block[T]{
		data: make([]T, BlockSize),
		prev: prev,
	}
}

// Storage is an append only sequence of elements. Push may only be called by the owning goroutine,
// any goroutine may read once the owner has stopped writing.
type Storage[T any] struct {
	head atomic.Pointer[block[T]]
}

// New creates an empty storage space with its first block allocated
func New[T any]() *Storage[T] {
	s := &Storage[T]{}
	s.head.Store(newBlock[T](nil))
	return s
}

// Push appends v. Only the owning goroutine may call it.
func (s *Storage[T]) Push(v T) {
	b := s.head.Load()
	n := b.n.Load()
	if n == BlockSize {
		b = newBlock(b)
		s.head.Store(b)
		n = 0
	}
	b.data[n] = v
	b.n.Store(n + 1)
}

// Len returns how many elements were pushed since creation or the last Reset
func (s *Storage[T]) Len() int {
	total := 0
	for b := s.head.Load(); b != nil; b = b.prev {
		total += int(b.n.Load())
	}
	return total
}

// All calls yield on every element in push order, stopping early if yield returns false
func (s *Storage[T]) All(yield func(T) bool) {
	var chain []*block[T]
	for b := s.head.Load(); b != nil; b = b.prev {
		chain = append(chain, b)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		b := chain[i]
		n := b.n.Load()
		for _, v := range b.data[:n] {
			if !yield(v) {
				return
			}
		}
	}
}

// Slice copies every element, in push order, into a new slice
func (s *Storage[T]) Slice() []T {
	result := make([]T, 0, s.Len())
	s.All(func(v T) bool {
		result = append(result, v)
		return true
	})
	return result
}

// Reset discards every element. It must not race with Push.
func (s *Storage[T]) Reset() {
	s.head.Store(newBlock[T](nil))
}
