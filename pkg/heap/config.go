package heap

import (
	"context"
	"fmt"
	"math/bits"
	"os"
	"time"

	"github.com/srediag/shmheap/internal/buddy"
	"github.com/srediag/shmheap/pkg/shm"
)

// Defaults agreed on by every process that shares the heap.
const (
	DefaultName     = "bluesim1"
	DefaultSize     = 64 << 20
	DefaultAddress  = 0x7f7e8e600000
	DefaultMinBlock = buddy.DefaultMinBlock
)

// Mapping is the part of a mapped segment the heap builds on.
type Mapping interface {
	Addr() uintptr
	Size() int
}

// Mapper opens and maps the segment described by opts.
type Mapper func(ctx context.Context, opts shm.OpenOptions) (Mapping, error)

// Config describes the shared segment and the engine laid over it.
type Config struct {
	// Name of the shared memory object. It must already exist.
	Name string
	// Size of the heap in bytes, a power of two.
	Size int
	// Address the segment must be mapped at. Zero lets the kernel choose,
	// which is only useful when no pointer leaves the process.
	Address uintptr
	// MinBlock is the smallest block size, a power of two of at least 16.
	// Zero means DefaultMinBlock.
	MinBlock uintptr
	// OpenTimeout waits for the segment to be created by another process.
	OpenTimeout time.Duration
	// Mapper overrides how the segment is mapped. Nil maps it with shm.Open.
	Mapper Mapper
}

// DefaultConfig returns the configuration shared by the simulator and the
// instrumented target.
func DefaultConfig() Config {
	return Config{
		Name:     DefaultName,
		Size:     DefaultSize,
		Address:  DefaultAddress,
		MinBlock: DefaultMinBlock,
	}
}

// Validate checks the configuration without touching the system.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty segment name", ErrInvalidConfig)
	}
	if c.Size <= 0 || bits.OnesCount64(uint64(c.Size)) != 1 {
		return fmt.Errorf("%w: size %d is not a power of two", ErrInvalidConfig, c.Size)
	}
	if page := uintptr(os.Getpagesize()); c.Address%page != 0 {
		return fmt.Errorf("%w: address %#x is not page aligned", ErrInvalidConfig, c.Address)
	}
	if c.MinBlock != 0 && (c.MinBlock < buddy.DefaultMinBlock || c.MinBlock&(c.MinBlock-1) != 0) {
		return fmt.Errorf("%w: minimum block %d", ErrInvalidConfig, c.MinBlock)
	}
	if c.OpenTimeout < 0 {
		return fmt.Errorf("%w: negative open timeout", ErrInvalidConfig)
	}
	return nil
}

func (c Config) minBlock() uintptr {
	if c.MinBlock == 0 {
		return DefaultMinBlock
	}
	return c.MinBlock
}

func (c Config) mapper() Mapper {
	if c.Mapper != nil {
		return c.Mapper
	}
	return openShared
}

func openShared(ctx context.Context, opts shm.OpenOptions) (Mapping, error) {
	region, err := shm.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return region, nil
}
