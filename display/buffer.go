// Package display holds the text currently being shown.
package display

import "sync"

// Capacity is the maximum number of characters kept from a message.
const Capacity = 200

// Buffer is a bounded text buffer with a dirty flag. Writers replace the
// whole content; the driver loop consumes the dirty flag to restart the
// animation. Buffer is safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	text      [Capacity]rune
	n         int
	dirty     bool
	truncated bool
}

// Replace overwrites the buffer with text and marks it dirty, even when the
// text is unchanged. Characters past Capacity are dropped; the return value
// reports whether that happened.
func (b *Buffer) Replace(text string) (truncated bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.n = 0
	b.truncated = false
	for _, r := range text {
		if b.n == Capacity {
			b.truncated = true
			break
		}
		b.text[b.n] = r
		b.n++
	}
	b.dirty = true
	return b.truncated
}

// Consume returns the text and clears the dirty flag. ok is false when the
// buffer has not changed since the last call.
func (b *Buffer) Consume() (text []rune, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.dirty {
		return nil, false
	}
	b.dirty = false
	return b.snapshot(), true
}

// Text returns a copy of the current content.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.text[:b.n])
}

// Len returns the number of characters held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Dirty reports whether the content changed since the last Consume.
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Truncated reports whether the last Replace dropped characters.
func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func (b *Buffer) snapshot() []rune {
	out := make([]rune, b.n)
	copy(out, b.text[:b.n])
	return out
}
