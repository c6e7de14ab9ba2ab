package shm

import (
	"context"
	"time"

	internalshm "github.com/srediag/shmheap/internal/shm"
)

var (
	ErrOpen        = internalshm.ErrOpen
	ErrMap         = internalshm.ErrMap
	ErrInvalidName = internalshm.ErrInvalidName
	ErrExists      = internalshm.ErrExists
	ErrNoSpace     = internalshm.ErrNoSpace
	ErrUnsupported = internalshm.ErrUnsupported
)

// Region is a shared memory object mapped into this process.
type Region struct {
	region *internalshm.MappedRegion
}

// OpenOptions defines how to open an existing shared memory object.
type OpenOptions struct {
	// Name is the identifier of the shared memory object.
	Name string
	// Size is the number of bytes to map.
	Size int
	// Addr is the fixed virtual address shared by all cooperating
	// processes. Zero lets the kernel choose.
	Addr uintptr
	// OpenTimeout waits for another process to create the object. Zero
	// fails immediately when it does not exist.
	OpenTimeout time.Duration
}

// Open maps an existing shared memory object. Errors wrap ErrOpen when the
// object cannot be opened and ErrMap when it cannot be mapped at Addr.
func Open(ctx context.Context, opts OpenOptions) (*Region, error) {
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Name:        opts.Name,
		Size:        opts.Size,
		Addr:        opts.Addr,
		OpenTimeout: opts.OpenTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Region{region: region}, nil
}

// Lookup returns the region this process mapped under name.
func Lookup(name string) (*Region, bool) {
	region, ok := internalshm.Lookup(name)
	if !ok {
		return nil, false
	}
	return &Region{region: region}, true
}

// HeapStart returns the address of the first region this process mapped,
// or zero.
func HeapStart() uintptr {
	return internalshm.HeapStart()
}

func (r *Region) Name() string {
	return r.region.Name
}

func (r *Region) Addr() uintptr {
	return r.region.Addr
}

func (r *Region) Size() int {
	return r.region.Size
}

// Bytes views the whole mapping.
func (r *Region) Bytes() []byte {
	return r.region.Bytes()
}

// Close unmaps the region. Pointers into it become invalid.
func (r *Region) Close() error {
	return internalshm.UnmapRegion(context.Background(), r.region)
}

// Create creates and sizes a named object. It refuses to replace an
// existing one.
func Create(name string, size int) error {
	return internalshm.CreateSegment(name, size)
}

// Remove unlinks a named object.
func Remove(name string) error {
	return internalshm.RemoveSegment(name)
}

// Stat returns the size of a named object.
func Stat(name string) (int64, error) {
	return internalshm.StatSegment(name)
}
