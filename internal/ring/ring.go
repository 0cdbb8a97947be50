// Package ring provides a fixed-capacity FIFO buffer that overwrites its
// oldest element on insert once full.
package ring

// Buffer is not safe for concurrent use; callers hold their own lock.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// New allocates a buffer holding at most capacity elements
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Len returns the number of stored elements
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the fixed capacity
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Push appends v, evicting and returning the oldest element when full
func (b *Buffer[T]) Push(v T) (evicted T, didEvict bool) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return evicted, false
	}
	evicted = b.items[b.head]
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	return evicted, true
}

// At returns the i-th element, oldest first
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Set overwrites the i-th element, oldest first
func (b *Buffer[T]) Set(i int, v T) {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	b.items[(b.head+i)%len(b.items)] = v
}

// Oldest returns the oldest element
func (b *Buffer[T]) Oldest() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[b.head], true
}

// Newest returns the most recently pushed element
func (b *Buffer[T]) Newest() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.At(b.size - 1), true
}

// DropOldest removes up to n elements from the front
func (b *Buffer[T]) DropOldest(n int) {
	var zero T
	for ; n > 0 && b.size > 0; n-- {
		b.items[b.head] = zero
		b.head = (b.head + 1) % len(b.items)
		b.size--
	}
}

// Insert places v at logical position i, shifting newer elements back.
// i is read against the contents before any eviction: when the buffer is
// full the oldest element is dropped and v lands just before the element
// that was at i.
func (b *Buffer[T]) Insert(i int, v T) {
	if i < 0 || i > b.size {
		panic("ring: index out of range")
	}
	if b.size == len(b.items) {
		if i == 0 {
			return // v would be the oldest and is evicted immediately
		}
		b.DropOldest(1)
		i--
	}
	b.size++
	for j := b.size - 1; j > i; j-- {
		b.Set(j, b.At(j-1))
	}
	b.Set(i, v)
}

// Slice copies the contents, oldest first
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// Do calls fn for each element, oldest first, until fn returns false
func (b *Buffer[T]) Do(fn func(T) bool) {
	for i := 0; i < b.size; i++ {
		if !fn(b.At(i)) {
			return
		}
	}
}
