// Package register installs the shared heap as the process allocator.
//
// Import it for its side effect from the main package of every process
// that allocates from the shared heap:
//
//	import _ "github.com/srediag/shmheap/pkg/heap/register"
//
// Its init function maps the segment with heap.DefaultConfig before any
// importing package's init runs, and exits the process with
// heap.ExitCode when that fails. Allocate through heap.Global afterwards.
package register

import (
	"context"

	"github.com/srediag/shmheap/pkg/heap"
)

func init() {
	heap.MustSetup(context.Background(), heap.DefaultConfig())
}
