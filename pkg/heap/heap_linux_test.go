//go:build linux

package heap

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/srediag/shmheap/api"
	"github.com/srediag/shmheap/pkg/shm"
)

func TestInitOverSharedSegment(t *testing.T) {
	if fi, err := os.Stat("/dev/shm"); err != nil || !fi.IsDir() {
		t.Skip("/dev/shm not available")
	}
	const size = 1 << 20
	name := fmt.Sprintf("shmheap-heap-%d", os.Getpid())

	require.NoError(t, shm.Create(name, size))
	defer func() {
		if r, ok := shm.Lookup(name); ok {
			assert.NoError(t, r.Close())
		}
		assert.NoError(t, shm.Remove(name))
	}()

	probe, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	require.NoError(t, err)
	addr := uintptr(unsafe.Pointer(&probe[0]))
	require.NoError(t, unix.Munmap(probe))

	h := New()
	require.NoError(t, h.Init(context.Background(), Config{
		Name:        name,
		Size:        size,
		Address:     addr,
		OpenTimeout: time.Second,
	}))
	assert.Equal(t, addr, h.Base())
	assert.Equal(t, addr, shm.HeapStart())

	l := api.MustLayout(256, 16)
	p := h.AllocZeroed(l)
	require.NotNil(t, p)
	assert.GreaterOrEqual(t, uintptr(p), addr)
	assert.Less(t, uintptr(p), addr+size)
	copy(unsafe.Slice((*byte)(p), l.Size), "visible to every process")

	region, ok := shm.Lookup(name)
	require.True(t, ok)
	off := uintptr(p) - addr
	assert.Equal(t, "visible to every process", string(region.Bytes()[off:off+24]))

	h.Free(p, l)
	assert.NoError(t, h.Check())
}
