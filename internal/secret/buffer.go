// Package secret holds key material and issued credentials in memory
// that lives outside the Go heap, is excluded from core dumps, and is
// locked against swap where the kernel allows it.
package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned when reading a buffer after Close.
var ErrClosed = errors.New("secret: buffer closed")

// Buffer is a fixed-size region of anonymous mapped memory.
// Contents are zeroed on Close.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	closed bool
}

// New maps size bytes. mlock and MADV_DONTDUMP are applied when
// permitted; an RLIMIT_MEMLOCK denial leaves the buffer usable but
// unlocked (see Locked).
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}

	b := &Buffer{data: data}
	if err := unix.Mlock(data); err == nil {
		b.locked = true
	}
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)
	return b, nil
}

// NewFromBytes copies src into a new buffer and zeroes src.
func NewFromBytes(src []byte) (*Buffer, error) {
	if len(src) == 0 {
		return nil, errors.New("secret: empty source")
	}
	b, err := New(len(src))
	if err != nil {
		return nil, err
	}
	copy(b.data, src)
	Wipe(src)
	return b, nil
}

// NewFromString copies s into a new buffer. The string itself cannot
// be wiped; callers should drop their reference.
func NewFromString(s string) (*Buffer, error) {
	return NewFromBytes([]byte(s))
}

// Bytes returns an owned copy of the contents.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

// String returns the contents as a string.
func (b *Buffer) String() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	return string(b.data), nil
}

// Len returns the buffer size, or 0 after Close.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	return len(b.data)
}

// Locked reports whether the pages are mlocked.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Close zeroes and unmaps the buffer. Safe to call more than once.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Wipe(b.data)

	var firstErr error
	if b.locked {
		if err := unix.Munlock(b.data); err != nil {
			firstErr = fmt.Errorf("secret: munlock: %w", err)
		}
	}
	if err := unix.Munmap(b.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("secret: munmap: %w", err)
	}
	b.data = nil
	return firstErr
}

// Wipe zeroes p in place.
func Wipe(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
