package api

import (
	"errors"
	"fmt"
	"math/bits"
	"unsafe"
)

// ErrInvalidLayout is returned for alignments that are not powers of two or
// sizes that overflow once rounded up to their alignment.
var ErrInvalidLayout = errors.New("invalid layout")

// Layout is the size and alignment of a block request.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// NewLayout validates size and align.
func NewLayout(size, align uintptr) (Layout, error) {
	if align == 0 || bits.OnesCount64(uint64(align)) != 1 {
		return Layout{}, fmt.Errorf("%w: align %d is not a power of two", ErrInvalidLayout, align)
	}
	if size > ^uintptr(0)-(align-1) {
		return Layout{}, fmt.Errorf("%w: size %d overflows when aligned to %d", ErrInvalidLayout, size, align)
	}
	return Layout{Size: size, Align: align}, nil
}

// MustLayout is NewLayout that panics on error.
func MustLayout(size, align uintptr) Layout {
	l, err := NewLayout(size, align)
	if err != nil {
		panic(err)
	}
	return l
}

// LayoutOf returns the layout of a single T.
func LayoutOf[T any]() Layout {
	var zero T
	return Layout{Size: unsafe.Sizeof(zero), Align: unsafe.Alignof(zero)}
}

// ArrayLayout returns the layout of n consecutive T values.
func ArrayLayout[T any](n int) (Layout, error) {
	if n < 0 {
		return Layout{}, fmt.Errorf("%w: negative length %d", ErrInvalidLayout, n)
	}
	elem := LayoutOf[T]()
	hi, size := bits.Mul64(uint64(elem.Size), uint64(n))
	if hi != 0 || uint64(uintptr(size)) != size {
		return Layout{}, fmt.Errorf("%w: %d elements of %d bytes overflow", ErrInvalidLayout, n, elem.Size)
	}
	return NewLayout(uintptr(size), elem.Align)
}

func (l Layout) String() string {
	return fmt.Sprintf("{size:%d align:%d}", l.Size, l.Align)
}
