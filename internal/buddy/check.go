package buddy

import (
	"fmt"
	"slices"

	"github.com/valyala/bytebufferpool"
)

type span struct {
	start, end uintptr
	order      int
}

// Check walks every free list and verifies that the lists agree with the
// bitmaps, that free blocks are aligned, in range and disjoint, and that no
// two buddies are free at the same order. All violations are reported in
// one error wrapping ErrCorrupted.
func (e *Engine) Check() error {
	if !e.initialized {
		return nil
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	problems := 0
	report := func(format string, a ...interface{}) {
		problems++
		_, _ = buf.WriteString("\n\t")
		_, _ = fmt.Fprintf(buf, format, a...)
	}

	var spans []span
	for order := 0; order <= e.topOrder; order++ {
		size := e.blockSize(order)
		limit := int(e.capacity / size)
		seen := 0
		prev := nilOffset
		for offset := e.heads[order]; offset != nilOffset; offset = e.node(offset).next {
			if offset >= e.capacity || e.capacity-offset < size {
				report("order %d: block %#x outside the region", order, offset)
				break
			}
			if offset&(size-1) != 0 {
				report("order %d: block %#x misaligned", order, offset)
			}
			if !e.isFree(offset, order) {
				report("order %d: block %#x listed but not marked free", order, offset)
			}
			if e.node(offset).prev != prev {
				report("order %d: block %#x has back link %#x, want %#x", order, offset, e.node(offset).prev, prev)
			}
			if order < e.topOrder && e.isFree(offset^size, order) {
				report("order %d: buddies %#x and %#x both free", order, offset, offset^size)
			}
			spans = append(spans, span{start: offset, end: offset + size, order: order})
			prev = offset
			seen++
			if seen > limit {
				report("order %d: list longer than %d blocks, cycle suspected", order, limit)
				break
			}
		}
		if marked := e.free[order].Count(); marked != seen {
			report("order %d: bitmap marks %d blocks, list holds %d", order, marked, seen)
		}
	}

	slices.SortFunc(spans, func(a, b span) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		}
		return 0
	})
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			report("block %#x (order %d) overlaps %#x (order %d)",
				spans[i].start, spans[i].order, spans[i-1].start, spans[i-1].order)
		}
	}

	if problems == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d problem(s):%s", ErrCorrupted, problems, buf.String())
}

// freeList returns the block offsets currently free at order.
func (e *Engine) freeList(order int) []uintptr {
	var result []uintptr
	if order > e.topOrder {
		return result
	}
	for offset := e.heads[order]; offset != nilOffset; offset = e.node(offset).next {
		result = append(result, offset)
	}
	return result
}

// FreeBytes sums the size of every free block. It walks every list.
func (e *Engine) FreeBytes() uintptr {
	var total uintptr
	for order := 0; order <= e.topOrder; order++ {
		total += uintptr(len(e.freeList(order))) * e.blockSize(order)
	}
	return total
}
