//go:build linux

package shm

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"
)

var nameSeq atomic.Int64

func uniqueName() string {
	return fmt.Sprintf("shmheap-test-%d-%d", os.Getpid(), nameSeq.Add(1))
}

type RegionTestSuite struct {
	suite.Suite
	ctx  context.Context
	name string
}

func (s *RegionTestSuite) SetupSuite() {
	if fi, err := os.Stat(devShm); err != nil || !fi.IsDir() {
		s.T().Skipf("%s not available", devShm)
	}
	s.ctx = context.Background()
}

func (s *RegionTestSuite) SetupTest() {
	s.name = uniqueName()
}

func (s *RegionTestSuite) TearDownTest() {
	if r, ok := Lookup(s.name); ok {
		s.NoError(UnmapRegion(s.ctx, r))
	}
	_ = RemoveSegment(s.name)
}

// freeAddress reserves and releases an anonymous mapping to find an address
// nothing else uses.
func (s *RegionTestSuite) freeAddress(size int) uintptr {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	s.Require().NoError(err)
	addr := uintptr(unsafe.Pointer(&mem[0]))
	s.Require().NoError(unix.Munmap(mem))
	return addr
}

func (s *RegionTestSuite) TestCreateMapAndShare() {
	const size = 1 << 16
	s.Require().NoError(CreateSegment(s.name, size))

	region, err := MapRegion(s.ctx, MapOptions{Name: s.name, Size: size})
	s.Require().NoError(err)
	s.NotZero(region.Addr)
	s.Equal(size, region.Size)

	// The object is zero filled by the kernel.
	for _, b := range region.Bytes()[:64] {
		s.Require().Zero(b)
	}
	copy(region.Bytes(), "shared heap")

	// A second, independent mapping of the same object sees the write.
	fd, err := unix.Open(objectPath(s.name), unix.O_RDONLY, 0)
	s.Require().NoError(err)
	defer unix.Close(fd)
	other, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	s.Require().NoError(err)
	defer unix.Munmap(other)
	s.Equal("shared heap", string(other[:11]))
}

func (s *RegionTestSuite) TestMapAtFixedAddress() {
	const size = 1 << 16
	s.Require().NoError(CreateSegment(s.name, size))
	want := s.freeAddress(size)

	region, err := MapRegion(s.ctx, MapOptions{Name: s.name, Size: size, Addr: want})
	s.Require().NoError(err)
	s.Equal(want, region.Addr)

	found, ok := Lookup("/" + s.name)
	s.True(ok)
	s.Same(region, found)
	s.Contains(Mapped(), s.name)
}

func (s *RegionTestSuite) TestMapFixedAddressInUse() {
	const size = 1 << 16
	s.Require().NoError(CreateSegment(s.name, size))

	busy, err := unix.Mmap(-1, 0, size, unix.PROT_READ, unix.MAP_ANON|unix.MAP_PRIVATE)
	s.Require().NoError(err)
	defer unix.Munmap(busy)

	_, err = MapRegion(s.ctx, MapOptions{Name: s.name, Size: size, Addr: uintptr(unsafe.Pointer(&busy[0]))})
	s.ErrorIs(err, ErrMap)
	_, ok := Lookup(s.name)
	s.False(ok)
}

func (s *RegionTestSuite) TestOpenMissingObject() {
	_, err := MapRegion(s.ctx, MapOptions{Name: s.name, Size: 4096})
	s.ErrorIs(err, ErrOpen)
	s.ErrorIs(err, os.ErrNotExist)
}

func (s *RegionTestSuite) TestOpenWaitsForObject() {
	const size = 1 << 14
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = CreateSegment(s.name, size)
	}()

	region, err := MapRegion(s.ctx, MapOptions{Name: s.name, Size: size, OpenTimeout: 5 * time.Second})
	s.Require().NoError(err)
	s.Equal(size, region.Size)
}

func (s *RegionTestSuite) TestOpenTimeoutHonorsContext() {
	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()

	_, err := MapRegion(ctx, MapOptions{Name: s.name, Size: 4096, OpenTimeout: time.Minute})
	s.ErrorIs(err, ErrOpen)
}

func (s *RegionTestSuite) TestObjectSmallerThanHeap() {
	s.Require().NoError(CreateSegment(s.name, 4096))

	_, err := MapRegion(s.ctx, MapOptions{Name: s.name, Size: 8192})
	s.ErrorIs(err, ErrMap)
}

func (s *RegionTestSuite) TestMapTwiceInOneProcess() {
	s.Require().NoError(CreateSegment(s.name, 4096))

	_, err := MapRegion(s.ctx, MapOptions{Name: s.name, Size: 4096})
	s.Require().NoError(err)
	_, err = MapRegion(s.ctx, MapOptions{Name: s.name, Size: 4096})
	s.ErrorIs(err, ErrMap)
}

func (s *RegionTestSuite) TestHeapStartPublished() {
	s.Require().NoError(CreateSegment(s.name, 4096))
	s.Require().Zero(HeapStart())

	region, err := MapRegion(s.ctx, MapOptions{Name: s.name, Size: 4096})
	s.Require().NoError(err)
	s.Equal(region.Addr, HeapStart())

	s.Require().NoError(UnmapRegion(s.ctx, region))
	s.Zero(HeapStart())
	_, ok := Lookup(s.name)
	s.False(ok)
}

func (s *RegionTestSuite) TestCreateAndStat() {
	s.Require().NoError(CreateSegment(s.name, 12345))
	s.ErrorIs(CreateSegment(s.name, 4096), ErrExists)

	size, err := StatSegment(s.name)
	s.Require().NoError(err)
	s.Equal(int64(12345), size)

	s.Require().NoError(RemoveSegment(s.name))
	_, err = StatSegment(s.name)
	s.ErrorIs(err, os.ErrNotExist)
}

func (s *RegionTestSuite) TestInvalidOptions() {
	for _, name := range []string{"", "/", "a/b", ".."} {
		_, err := MapRegion(s.ctx, MapOptions{Name: name, Size: 4096})
		s.ErrorIs(err, ErrInvalidName, name)
		s.ErrorIs(CreateSegment(name, 4096), ErrInvalidName, name)
	}
	_, err := MapRegion(s.ctx, MapOptions{Name: s.name, Size: 0})
	s.ErrorIs(err, ErrMap)
	s.Error(CreateSegment(s.name, -1))
}

func TestRegionTestSuite(t *testing.T) {
	suite.Run(t, new(RegionTestSuite))
}

func TestCanCreateOnDevShm(t *testing.T) {
	// just on /dev/shm, other always return true
	assert.Equal(t, true, canCreateOnDevShm(math.MaxUint64, "sdffafds"))
	stat, err := disk.Usage(devShm)
	if err != nil {
		t.Skipf("%s usage: %v", devShm, err)
	}
	assert.Equal(t, true, canCreateOnDevShm(stat.Free/2, "/dev/shm/xxx"))
	assert.Equal(t, false, canCreateOnDevShm(math.MaxUint64, "/dev/shm/yyy"))
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "/dev/shm/bluesim1", objectPath("/bluesim1"))
	assert.Equal(t, "/dev/shm/bluesim1", objectPath("bluesim1"))
}
