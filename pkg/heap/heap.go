// Package heap is the process-wide allocator backed by a shared memory
// segment mapped at a fixed address.
//
// A Heap moves through Uninitialized, Mapping and Initialized exactly once.
// Allocation before Initialized is a fatal ordering violation and panics
// with ErrNotInitialized. Every operation holds the heap mutex for its whole
// duration; the lock does not extend to other processes mapping the same
// segment.
package heap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/srediag/shmheap/api"
	"github.com/srediag/shmheap/internal/buddy"
	"github.com/srediag/shmheap/internal/logger"
	"github.com/srediag/shmheap/pkg/shm"
)

var internalLogger = logger.New("heap", nil)

// State is the position of a Heap in its initialization protocol.
type State int32

const (
	StateUninitialized State = iota
	StateMapping
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMapping:
		return "mapping"
	case StateInitialized:
		return "initialized"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Heap serializes access to a buddy engine laid over one region.
type Heap struct {
	mu     sync.Mutex
	state  atomic.Int32
	engine *buddy.Engine
}

var _ api.Allocator = (*Heap)(nil)

// New returns a heap in StateUninitialized.
func New() *Heap {
	return &Heap{}
}

// State returns the current protocol state.
func (h *Heap) State() State {
	return State(h.state.Load())
}

// Init maps the segment described by cfg and lays the engine over it. It
// succeeds at most once; any failure leaves the heap unusable.
func (h *Heap) Init(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !h.begin() {
		return ErrAlreadyInitialized
	}

	mapping, err := cfg.mapper()(ctx, shm.OpenOptions{
		Name:        cfg.Name,
		Size:        cfg.Size,
		Addr:        cfg.Address,
		OpenTimeout: cfg.OpenTimeout,
	})
	if err != nil {
		return err
	}
	if cfg.Address != 0 && mapping.Addr() != cfg.Address {
		return fmt.Errorf("%w: %s at %#x, want %#x", ErrAddressMismatch, cfg.Name, mapping.Addr(), cfg.Address)
	}
	if mapping.Size() < cfg.Size {
		return fmt.Errorf("%w: %s maps %d bytes, want %d", ErrInvalidRegion, cfg.Name, mapping.Size(), cfg.Size)
	}
	return h.finish(mapping.Addr(), uintptr(cfg.Size), cfg.minBlock())
}

// InitRegion lays the engine over memory the caller already owns, such as
// a segment mapped by other means. The memory must outlive the heap and
// must not be managed by the Go runtime.
func (h *Heap) InitRegion(base, size, minBlock uintptr) error {
	if !h.begin() {
		return ErrAlreadyInitialized
	}
	return h.finish(base, size, minBlock)
}

func (h *Heap) begin() bool {
	return h.state.CompareAndSwap(int32(StateUninitialized), int32(StateMapping))
}

func (h *Heap) finish(base, size, minBlock uintptr) error {
	engine, err := buddy.New(minBlock)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRegion, err)
	}
	if err := engine.Init(base, size); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRegion, err)
	}

	h.mu.Lock()
	h.engine = engine
	h.mu.Unlock()
	h.state.Store(int32(StateInitialized))

	internalLogger.Infof("heap ready at %#x, %d bytes", base, engine.Capacity())
	return nil
}

// engineLocked must be called with h.mu held.
func (h *Heap) engineLocked() *buddy.Engine {
	if st := h.State(); st != StateInitialized {
		panic(fmt.Errorf("%w: heap is %s", ErrNotInitialized, st))
	}
	return h.engine
}

// Base returns the first address of the heap.
func (h *Heap) Base() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engineLocked().Base()
}

// Capacity returns the number of bytes the heap manages.
func (h *Heap) Capacity() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engineLocked().Capacity()
}

// Contains reports whether p points into the heap.
func (h *Heap) Contains(p unsafe.Pointer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engineLocked().Contains(uintptr(p))
}

// Alloc returns a block for l, or nil when the heap is exhausted.
func (h *Heap) Alloc(l api.Layout) unsafe.Pointer {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.engineLocked()
	addr, ok := e.Allocate(l.Size, l.Align)
	if !ok {
		h.logExhausted(e, l)
		return nil
	}
	return unsafe.Pointer(addr)
}

// AllocZeroed is Alloc with the first l.Size bytes set to zero.
func (h *Heap) AllocZeroed(l api.Layout) unsafe.Pointer {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.engineLocked()
	addr, ok := e.AllocateZeroed(l.Size, l.Align)
	if !ok {
		h.logExhausted(e, l)
		return nil
	}
	return unsafe.Pointer(addr)
}

// Free releases p, allocated with l. Freeing nil does nothing.
func (h *Heap) Free(p unsafe.Pointer, l api.Layout) {
	if p == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.engineLocked().Deallocate(uintptr(p), l.Size, l.Align)
}

// Realloc resizes p, allocated with l, to newSize bytes. It returns nil and
// leaves p untouched when no block is large enough. A nil p allocates.
func (h *Heap) Realloc(p unsafe.Pointer, l api.Layout, newSize uintptr) unsafe.Pointer {
	if p == nil {
		return h.Alloc(api.Layout{Size: newSize, Align: l.Align})
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.engineLocked()
	addr, ok := e.Reallocate(uintptr(p), l.Size, l.Align, newSize)
	if !ok {
		h.logExhausted(e, api.Layout{Size: newSize, Align: l.Align})
		return nil
	}
	return unsafe.Pointer(addr)
}

func (h *Heap) logExhausted(e *buddy.Engine, l api.Layout) {
	if logger.Level() > logger.LevelDebug {
		return
	}
	internalLogger.Debugf("no block for %v, %d of %d bytes free", l, e.FreeBytes(), e.Capacity())
}

// Check verifies the free lists and reports every inconsistency found,
// wrapping ErrCorrupted.
func (h *Heap) Check() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engineLocked().Check()
}
