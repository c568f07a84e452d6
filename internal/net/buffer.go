package net

import "sync"

// Buffer is the byte queue between the receive goroutine (Append) and the
// dispatch loop (Inspect/Consume). Every method takes the same mutex, so a
// readiness decision made inside Inspect sees one consistent snapshot.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	limit int
}

// NewBuffer creates a buffer with the given initial capacity. limit is the
// size above which Full reports true; 0 disables it.
func NewBuffer(capacity, limit int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity), limit: limit}
}

// Append copies p to the end of the buffer.
func (b *Buffer) Append(p []byte) {
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.mu.Unlock()
}

// Available returns the number of buffered bytes.
func (b *Buffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Full reports whether the buffer holds more than its limit.
func (b *Buffer) Full() bool {
	if b.limit <= 0 {
		return false
	}
	return b.Available() > b.limit
}

// Peek returns a copy of up to n bytes from the front.
func (b *Buffer) Peek(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.data) {
		n = len(b.data)
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	return out
}

// Inspect runs fn over the buffered bytes while holding the lock. fn must not
// retain the slice or call back into the buffer.
func (b *Buffer) Inspect(fn func(data []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.data)
}

// Consume drops the first n bytes. It returns how many were dropped.
func (b *Buffer) Consume(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.data) {
		n = len(b.data)
	}
	if n <= 0 {
		return 0
	}
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]
	return n
}

// Take returns a copy of everything buffered and empties the buffer.
func (b *Buffer) Take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	return out
}

// Reset discards everything.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.mu.Unlock()
}
