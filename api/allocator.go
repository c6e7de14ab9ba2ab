// Package api defines public API contracts for shmheap.
package api

import "unsafe"

// Allocator is the allocate/deallocate/reallocate/zero-allocate contract a
// process-wide heap exposes. Pointers returned by an Allocator live outside
// the Go heap and must never hold Go pointers.
type Allocator interface {
	// Alloc returns a block satisfying l, or nil when no memory is left.
	Alloc(l Layout) unsafe.Pointer
	// AllocZeroed is Alloc with the first l.Size bytes set to zero.
	AllocZeroed(l Layout) unsafe.Pointer
	// Free releases p, which must come from this Allocator with layout l.
	Free(p unsafe.Pointer, l Layout)
	// Realloc resizes p to newSize bytes keeping l.Align. On failure it
	// returns nil and p stays valid.
	Realloc(p unsafe.Pointer, l Layout, newSize uintptr) unsafe.Pointer
}
