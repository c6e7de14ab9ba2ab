// Package shm contains the platform-specific plumbing that opens and maps
// named POSIX shared memory objects for the shared heap.
package shm

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unsafe"

	"github.com/srediag/shmheap/internal/logger"
)

const devShm = "/dev/shm"

var (
	// ErrOpen wraps every failure to open the named object.
	ErrOpen = errors.New("shm: open shared memory object")
	// ErrMap wraps every failure to map the object at the requested address.
	ErrMap = errors.New("shm: map shared memory object")

	ErrInvalidName = errors.New("shm: invalid object name")
	ErrExists      = errors.New("shm: object already exists")
	ErrNoSpace     = errors.New("shm: not enough space left on " + devShm)
	ErrUnsupported = errors.New("shm: shared memory heap not supported on this platform")
)

var internalLogger = logger.New("shm", nil)

// MappedRegion is a named object mapped into this process.
type MappedRegion struct {
	Name string
	Fd   int
	Addr uintptr
	Size int
}

// Bytes views the mapping as a byte slice. The slice is invalid after
// UnmapRegion.
func (r *MappedRegion) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(r.Addr)), r.Size)
}

// MapOptions defines how to open and map a shared memory object.
type MapOptions struct {
	// Name of an existing object, with or without the leading slash.
	Name string
	// Size in bytes to map; the object must be at least this large.
	Size int
	// Addr is the fixed virtual address to map at. Zero lets the kernel
	// choose, which breaks pointer identity across processes.
	Addr uintptr
	// OpenTimeout bounds how long to wait for the object to appear. Zero
	// means a single attempt.
	OpenTimeout time.Duration
}

func (o MapOptions) validate() error {
	if err := validateName(o.Name); err != nil {
		return err
	}
	if o.Size <= 0 {
		return fmt.Errorf("%w %s: invalid size %d", ErrMap, o.Name, o.Size)
	}
	return nil
}

func validateName(name string) error {
	trimmed := strings.TrimPrefix(name, "/")
	if trimmed == "" || strings.ContainsRune(trimmed, '/') || trimmed == "." || trimmed == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// objectPath is where shm_open keeps name on Linux.
func objectPath(name string) string {
	return filepath.Join(devShm, strings.TrimPrefix(name, "/"))
}
