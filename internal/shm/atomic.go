package shm

import "sync/atomic"

// heapStart is the address of the first region mapped by this process,
// published for code that needs to find the shared heap without a handle.
var heapStart atomic.Uintptr

// HeapStart returns the published heap address, or zero before any mapping.
func HeapStart() uintptr {
	return heapStart.Load()
}

func publishHeapStart(addr uintptr) {
	heapStart.CompareAndSwap(0, addr)
}

func retractHeapStart(addr uintptr) {
	heapStart.CompareAndSwap(addr, 0)
}
