// Package arena provides a free list of pre-allocated byte slices so the
// ring protocol's receive loop can avoid churning the allocator on every
// inbound datagram.
package arena

// Arena is a free list that provides quick access to pre-allocated byte
// slices, greatly reducing memory churn and effectively disabling GC for
// these allocations. After the arena is created, a slice of bytes can be
// requested by calling Pop(). The caller is responsible for calling Push(),
// which puts the block back in the queue for later usage. The bytes given by
// Pop() are *not* zeroed, so the caller should only read positions that it
// knows to have been overwritten.
type Arena chan []byte

// NewArena allocates numBlocks slices of blockSize bytes each.
func NewArena(blockSize int, numBlocks int) Arena {
	blocks := make(Arena, numBlocks)
	for i := 0; i < numBlocks; i++ {
		blocks <- make([]byte, blockSize)
	}
	return blocks
}

func (a Arena) Pop() (x []byte) {
	return <-a
}

func (a Arena) Push(x []byte) {
	x = x[:cap(x)]
	a <- x
}
