//go:build linux

package shm

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// MapRegion opens an existing shared memory object and maps it shared,
// read-write, at opts.Addr. A fixed address that cannot be honored is an
// error; the mapping is never moved elsewhere.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if _, ok := Lookup(opts.Name); ok {
		return nil, fmt.Errorf("%w %s: already mapped in this process", ErrMap, opts.Name)
	}

	fd, err := openObject(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, opts.Name, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w %s: fstat: %w", ErrMap, opts.Name, err)
	}
	if st.Size < int64(opts.Size) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w %s: object holds %d bytes, need %d", ErrMap, opts.Name, st.Size, opts.Size)
	}

	flags := unix.MAP_SHARED
	if opts.Addr != 0 {
		flags |= unix.MAP_FIXED_NOREPLACE
	}
	ptr, err := unix.MmapPtr(fd, 0, unsafe.Pointer(opts.Addr), uintptr(opts.Size),
		unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w %s at %#x: %w", ErrMap, opts.Name, opts.Addr, err)
	}
	// Kernels before 4.17 treat MAP_FIXED_NOREPLACE as a hint.
	if opts.Addr != 0 && uintptr(ptr) != opts.Addr {
		_ = unix.MunmapPtr(ptr, uintptr(opts.Size))
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w %s: kernel placed mapping at %#x, want %#x", ErrMap, opts.Name, uintptr(ptr), opts.Addr)
	}

	region := &MappedRegion{
		Name: opts.Name,
		Fd:   fd,
		Addr: uintptr(ptr),
		Size: opts.Size,
	}
	if !register(region) {
		_ = unix.MunmapPtr(ptr, uintptr(opts.Size))
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w %s: already mapped in this process", ErrMap, opts.Name)
	}
	internalLogger.Infof("mapped %s (%d bytes) at %#x", opts.Name, opts.Size, region.Addr)
	return region, nil
}

func openObject(ctx context.Context, opts MapOptions) (int, error) {
	path := objectPath(opts.Name)
	if opts.OpenTimeout <= 0 {
		return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	}

	fd := -1
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = opts.OpenTimeout
	err := backoff.RetryNotify(func() error {
		var err error
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if errors.Is(err, unix.ENOENT) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		internalLogger.Debugf("waiting for %s: %v, retry in %s", path, err, next)
	})
	return fd, err
}

// UnmapRegion unmaps and closes a region returned by MapRegion. The heap
// never calls it; mappings live until the process exits.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == 0 {
		return nil
	}
	unregister(region)
	var errs []error
	if err := unix.MunmapPtr(unsafe.Pointer(region.Addr), uintptr(region.Size)); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	if err := unix.Close(region.Fd); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	region.Addr = 0
	return errors.Join(errs...)
}
