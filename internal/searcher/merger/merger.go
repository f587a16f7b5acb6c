// Package merger selects the best-ranked slice of a candidate set without
// sorting all of it. A bounded heap keeps only the entries that can still
// make the requested window.
package merger

import (
	"container/heap"
)

// TopK returns the k smallest items under cmp, in cmp order. The result is
// the same as sorting items and keeping the first k; items is not modified.
func TopK[T any](items []T, k int, cmp func(a, b T) int) []T {
	if k <= 0 || len(items) == 0 {
		return []T{}
	}
	b := &bounded[T]{cmp: cmp, items: make([]T, 0, min(k, len(items)))}
	for _, it := range items {
		switch {
		case len(b.items) < k:
			heap.Push(b, it)
		case cmp(it, b.items[0]) < 0:
			b.items[0] = it
			heap.Fix(b, 0)
		}
	}
	out := make([]T, len(b.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(b).(T)
	}
	return out
}

// Window returns the 1-based page of size entries from items in cmp order.
// A page past the end is empty.
func Window[T any](items []T, page, size int, cmp func(a, b T) int) []T {
	if page < 1 || size <= 0 {
		return []T{}
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	top := TopK(items, start+size, cmp)
	return top[start:]
}

// bounded is a max-heap under cmp: the worst kept item sits at the root,
// ready to be displaced.
type bounded[T any] struct {
	cmp   func(a, b T) int
	items []T
}

func (b *bounded[T]) Len() int           { return len(b.items) }
func (b *bounded[T]) Less(i, j int) bool { return b.cmp(b.items[i], b.items[j]) > 0 }
func (b *bounded[T]) Swap(i, j int)      { b.items[i], b.items[j] = b.items[j], b.items[i] }
func (b *bounded[T]) Push(x any)         { b.items = append(b.items, x.(T)) }

func (b *bounded[T]) Pop() any {
	n := len(b.items) - 1
	it := b.items[n]
	b.items = b.items[:n]
	return it
}
