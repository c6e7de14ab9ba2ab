// Package buddy implements a power-of-two buddy allocator over a contiguous
// address range that the Go runtime does not own.
//
// Free blocks are kept in one intrusive doubly linked list per order. The
// list links are stored inside the free blocks themselves, as offsets from
// the region base, so the bookkeeping lives in the managed memory. A bit
// array per order marks which block heads are currently free, which makes
// the buddy lookup during coalescing O(1).
package buddy

import (
	"errors"
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/Workiva/go-datastructures/bitarray"

	"github.com/srediag/shmheap/internal/logger"
)

const (
	// Order bounds the number of block classes. The top block of a region
	// is at most 2^(Order-1) minimum blocks.
	Order = 32

	// DefaultMinBlock is the smallest block handed out. It must hold a
	// freeNode.
	DefaultMinBlock = 16

	nilOffset = ^uintptr(0)
	ptrSize   = unsafe.Sizeof(uintptr(0))
)

var (
	ErrAlreadyInitialized = errors.New("buddy: engine already initialized")
	ErrInvalidMinBlock    = errors.New("buddy: invalid minimum block size")
	ErrRegionTooSmall     = errors.New("buddy: region smaller than one minimum block")
	ErrRegionTooLarge     = errors.New("buddy: region exceeds the largest order")
	ErrMisalignedBase     = errors.New("buddy: region base not aligned to the minimum block")
	ErrCorrupted          = errors.New("buddy: heap corrupted")
)

var internalLogger = logger.New("buddy", nil)

// freeNode is the header written at the start of every free block.
type freeNode struct {
	next uintptr
	prev uintptr
}

// Engine is the allocator state: the region descriptor and the free list
// table. It is not safe for concurrent use.
type Engine struct {
	base      uintptr
	capacity  uintptr
	baseAlign uintptr
	minBlock  uintptr
	minShift  uint
	topOrder  int

	heads [Order]uintptr
	free  [Order]bitarray.BitArray

	initialized bool
}

// New returns an uninitialized Engine whose smallest block is minBlock
// bytes. minBlock must be a power of two that can hold the free list links.
func New(minBlock uintptr) (*Engine, error) {
	if minBlock < unsafe.Sizeof(freeNode{}) || minBlock&(minBlock-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMinBlock, minBlock)
	}
	return &Engine{
		minBlock: minBlock,
		minShift: uint(bits.TrailingZeros64(uint64(minBlock))),
	}, nil
}

// Init seeds the free lists with one block spanning [base, base+cap) where
// cap is the largest power of two not above size. It may be called once.
func (e *Engine) Init(base, size uintptr) error {
	if e.initialized {
		return ErrAlreadyInitialized
	}
	if size < e.minBlock {
		return fmt.Errorf("%w: %d < %d", ErrRegionTooSmall, size, e.minBlock)
	}
	if base == 0 || base&(e.minBlock-1) != 0 {
		return fmt.Errorf("%w: %#x", ErrMisalignedBase, base)
	}

	capacity := uintptr(1) << (bits.Len64(uint64(size)) - 1)
	topOrder := bits.TrailingZeros64(uint64(capacity)) - int(e.minShift)
	if topOrder > Order-1 {
		return fmt.Errorf("%w: %d bytes needs order %d", ErrRegionTooLarge, size, topOrder)
	}
	if capacity != size {
		internalLogger.Warnf("region size %d is not a power of two, last %d bytes unused", size, size-capacity)
	}

	e.base = base
	e.capacity = capacity
	e.baseAlign = uintptr(1) << bits.TrailingZeros64(uint64(base))
	e.topOrder = topOrder
	for k := range e.heads {
		e.heads[k] = nilOffset
		e.free[k] = nil
	}
	for k := 0; k <= topOrder; k++ {
		e.free[k] = bitarray.NewBitArray(uint64(capacity >> (e.minShift + uint(k))))
	}
	e.push(0, topOrder)
	e.initialized = true

	internalLogger.Debugf("engine ready base=%#x capacity=%d minBlock=%d topOrder=%d",
		base, capacity, e.minBlock, topOrder)
	return nil
}

// Base returns the first address of the region.
func (e *Engine) Base() uintptr {
	return e.base
}

// Capacity returns the number of bytes the engine manages.
func (e *Engine) Capacity() uintptr {
	return e.capacity
}

// MinBlock returns the size of an order 0 block.
func (e *Engine) MinBlock() uintptr {
	return e.minBlock
}

// TopOrder returns the order of the block seeded by Init.
func (e *Engine) TopOrder() int {
	return e.topOrder
}

// Contains reports whether addr lies inside the managed range.
func (e *Engine) Contains(addr uintptr) bool {
	return addr >= e.base && addr-e.base < e.capacity
}

func (e *Engine) blockSize(order int) uintptr {
	return e.minBlock << uint(order)
}

// orderFor returns the smallest order whose block fits size bytes aligned
// to align. ok is false when no order of this region can.
func (e *Engine) orderFor(size, align uintptr) (order int, ok bool) {
	need := size
	if align > need {
		need = align
	}
	if need < ptrSize {
		need = ptrSize
	}
	if need < e.minBlock {
		need = e.minBlock
	}
	if need > e.capacity {
		return 0, false
	}
	block := uintptr(1) << bits.Len64(uint64(need-1))
	return bits.TrailingZeros64(uint64(block)) - int(e.minShift), true
}

func (e *Engine) node(offset uintptr) *freeNode {
	return (*freeNode)(unsafe.Pointer(e.base + offset))
}

func (e *Engine) bit(offset uintptr, order int) uint64 {
	return uint64(offset >> (e.minShift + uint(order)))
}

func (e *Engine) isFree(offset uintptr, order int) bool {
	if offset >= e.capacity {
		return false
	}
	set, err := e.free[order].GetBit(e.bit(offset, order))
	return err == nil && set
}

func (e *Engine) push(offset uintptr, order int) {
	n := e.node(offset)
	n.prev = nilOffset
	n.next = e.heads[order]
	if n.next != nilOffset {
		e.node(n.next).prev = offset
	}
	e.heads[order] = offset
	_ = e.free[order].SetBit(e.bit(offset, order))
}

func (e *Engine) remove(offset uintptr, order int) {
	n := e.node(offset)
	if n.next != nilOffset {
		e.node(n.next).prev = n.prev
	}
	if n.prev != nilOffset {
		e.node(n.prev).next = n.next
	} else {
		e.heads[order] = n.next
	}
	_ = e.free[order].ClearBit(e.bit(offset, order))
}

func (e *Engine) bytes(addr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// Allocate returns the address of a block of at least size bytes aligned to
// align, or false when no free block is large enough.
func (e *Engine) Allocate(size, align uintptr) (uintptr, bool) {
	if !e.initialized || align > e.baseAlign {
		return 0, false
	}
	order, ok := e.orderFor(size, align)
	if !ok {
		return 0, false
	}

	found := order
	for found <= e.topOrder && e.heads[found] == nilOffset {
		found++
	}
	if found > e.topOrder {
		return 0, false
	}

	offset := e.heads[found]
	e.remove(offset, found)
	for found > order {
		found--
		e.push(offset+e.blockSize(found), found)
	}
	return e.base + offset, true
}

// AllocateZeroed is Allocate with the first size bytes cleared.
func (e *Engine) AllocateZeroed(size, align uintptr) (uintptr, bool) {
	addr, ok := e.Allocate(size, align)
	if ok && size > 0 {
		clear(e.bytes(addr, size))
	}
	return addr, ok
}

// Deallocate returns the block at addr, allocated with size and align, and
// merges it with its buddy for as long as the buddy is free.
func (e *Engine) Deallocate(addr, size, align uintptr) {
	order, ok := e.orderFor(size, align)
	if !ok {
		panic(fmt.Errorf("%w: free of %#x with size %d larger than the region", ErrCorrupted, addr, size))
	}
	offset := e.guard(addr, order)

	for order < e.topOrder {
		buddy := offset ^ e.blockSize(order)
		if !e.isFree(buddy, order) {
			break
		}
		e.remove(buddy, order)
		offset &^= e.blockSize(order)
		order++
	}
	e.push(offset, order)

	if logger.DebugMode() {
		if err := e.Check(); err != nil {
			panic(err)
		}
	}
}

// guard rejects foreign pointers, pointers that are not block heads for
// their order and double frees, and returns the block offset.
func (e *Engine) guard(addr uintptr, order int) uintptr {
	if !e.initialized || !e.Contains(addr) {
		panic(fmt.Errorf("%w: free of foreign pointer %#x", ErrCorrupted, addr))
	}
	offset := addr - e.base
	if offset&(e.blockSize(order)-1) != 0 {
		panic(fmt.Errorf("%w: %#x is not an order %d block", ErrCorrupted, addr, order))
	}
	for k := order; k <= e.topOrder; k++ {
		if e.isFree(offset&^(e.blockSize(k)-1), k) {
			panic(fmt.Errorf("%w: double free of %#x", ErrCorrupted, addr))
		}
	}
	return offset
}

// Reallocate moves the block at addr to one that fits newSize bytes. A
// request that stays in the same order keeps addr. On failure the original
// block is left allocated and false is returned.
func (e *Engine) Reallocate(addr, oldSize, align, newSize uintptr) (uintptr, bool) {
	oldOrder, ok := e.orderFor(oldSize, align)
	if !ok {
		panic(fmt.Errorf("%w: realloc of %#x with size %d larger than the region", ErrCorrupted, addr, oldSize))
	}
	newOrder, ok := e.orderFor(newSize, align)
	if !ok {
		return 0, false
	}
	if newOrder == oldOrder {
		return addr, true
	}

	dst, ok := e.Allocate(newSize, align)
	if !ok {
		return 0, false
	}
	if n := min(oldSize, newSize); n > 0 {
		copy(e.bytes(dst, n), e.bytes(addr, n))
	}
	e.Deallocate(addr, oldSize, align)
	return dst, true
}
