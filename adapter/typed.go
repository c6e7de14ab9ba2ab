// Package adapter provides typed allocation on top of an api.Allocator.
//
// Memory handed out by a shared heap is invisible to the garbage collector,
// so every type stored there must be free of Go pointers: no pointers,
// slices, strings, maps, channels, funcs or interfaces. The helpers panic
// with ErrPointerType otherwise.
package adapter

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/srediag/shmheap/api"
)

// ErrPointerType is the panic value for element types that hold Go pointers.
var ErrPointerType = errors.New("adapter: type holds Go pointers")

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	case reflect.Pointer, reflect.UnsafePointer, reflect.Slice, reflect.String,
		reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return true
	}
	return false
}

func mustBePlain[T any]() {
	if t := reflect.TypeOf((*T)(nil)).Elem(); hasPointers(t) {
		panic(fmt.Errorf("%w: %v", ErrPointerType, t))
	}
}

// New allocates a zeroed T. It returns nil when the allocator is exhausted.
func New[T any](a api.Allocator) *T {
	mustBePlain[T]()
	return (*T)(a.AllocZeroed(api.LayoutOf[T]()))
}

// Delete releases a value obtained from New. Deleting nil does nothing.
func Delete[T any](a api.Allocator, p *T) {
	if p == nil {
		return
	}
	a.Free(unsafe.Pointer(p), api.LayoutOf[T]())
}

// MakeSlice allocates a zeroed slice of n elements with capacity n.
func MakeSlice[T any](a api.Allocator, n int) ([]T, error) {
	mustBePlain[T]()
	if n == 0 {
		return nil, nil
	}
	l, err := api.ArrayLayout[T](n)
	if err != nil {
		return nil, err
	}
	p := a.AllocZeroed(l)
	if p == nil {
		return nil, fmt.Errorf("adapter: no block for %d elements (%v)", n, l)
	}
	return unsafe.Slice((*T)(p), n), nil
}

// FreeSlice releases a slice obtained from MakeSlice or GrowSlice. Only the
// capacity matters; s may have been resliced.
func FreeSlice[T any](a api.Allocator, s []T) {
	if cap(s) == 0 {
		return
	}
	l, err := api.ArrayLayout[T](cap(s))
	if err != nil {
		panic(err)
	}
	a.Free(unsafe.Pointer(unsafe.SliceData(s[:1])), l)
}

// GrowSlice resizes the backing block of s to hold n elements. The first
// len(s) elements are preserved and the slice returned has length len(s)
// and capacity n. On failure s is left intact and still owned by the
// caller.
func GrowSlice[T any](a api.Allocator, s []T, n int) ([]T, error) {
	mustBePlain[T]()
	if n < len(s) {
		return nil, fmt.Errorf("%w: cannot shrink %d elements to %d", api.ErrInvalidLayout, len(s), n)
	}
	if cap(s) == 0 {
		grown, err := MakeSlice[T](a, n)
		return grown[:0], err
	}
	newLayout, err := api.ArrayLayout[T](n)
	if err != nil {
		return nil, err
	}
	old, err := api.ArrayLayout[T](cap(s))
	if err != nil {
		return nil, err
	}
	p := a.Realloc(unsafe.Pointer(unsafe.SliceData(s[:1])), old, newLayout.Size)
	if p == nil {
		return nil, fmt.Errorf("adapter: no block for %d elements (%v)", n, newLayout)
	}
	return unsafe.Slice((*T)(p), n)[:len(s)], nil
}
