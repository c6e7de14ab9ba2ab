//go:build linux

package shm

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

// CreateSegment creates and sizes a new shared memory object. It is the
// setup step that must run before any process maps the heap.
func CreateSegment(name string, size int) error {
	if err := validateName(name); err != nil {
		return err
	}
	if size <= 0 {
		return fmt.Errorf("shm: create %s: invalid size %d", name, size)
	}
	path := objectPath(name)
	if !canCreateOnDevShm(uint64(size), path) {
		return fmt.Errorf("%w: path %s size %d", ErrNoSpace, path, size)
	}

	// Size the object under a private name and link it into place so that
	// a concurrent MapRegion never sees it half created.
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	fd, err := unix.Open(tmp, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return fmt.Errorf("shm: create %s: %w", name, err)
	}
	defer func() {
		if err := unix.Unlink(tmp); err != nil && !errors.Is(err, unix.ENOENT) {
			internalLogger.Warnf("remove %s failed: %v", tmp, err)
		}
	}()

	err = unix.Ftruncate(fd, int64(size))
	if cerr := unix.Close(fd); cerr != nil {
		internalLogger.Warnf("file close error: %v", cerr)
	}
	if err != nil {
		return fmt.Errorf("shm: truncate %s: %w", name, err)
	}

	if err := unix.Link(tmp, path); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return fmt.Errorf("shm: create %s: %w", name, err)
	}
	internalLogger.Infof("created %s with %d bytes", path, size)
	return nil
}

// RemoveSegment unlinks the object. Existing mappings stay valid.
func RemoveSegment(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := unix.Unlink(objectPath(name)); err != nil {
		return fmt.Errorf("shm: remove %s: %w", name, err)
	}
	return nil
}

// StatSegment returns the size of an existing object.
func StatSegment(name string) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	var st unix.Stat_t
	if err := unix.Stat(objectPath(name), &st); err != nil {
		return 0, fmt.Errorf("shm: stat %s: %w", name, err)
	}
	return st.Size, nil
}

// canCreateOnDevShm only checks paths on /dev/shm; anything else is assumed
// to have room.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, devShm) {
		return true
	}
	stat, err := disk.Usage(devShm)
	if err != nil {
		internalLogger.Warnf("could not read %s usage: %v", devShm, err)
		return true
	}
	return stat.Free >= size
}
