package shm

import (
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// regions holds every live mapping of this process keyed by object name.
var regions = cmap.New[*MappedRegion]()

func registryKey(name string) string {
	return strings.TrimPrefix(name, "/")
}

func register(region *MappedRegion) bool {
	if !regions.SetIfAbsent(registryKey(region.Name), region) {
		return false
	}
	publishHeapStart(region.Addr)
	return true
}

func unregister(region *MappedRegion) {
	regions.RemoveCb(registryKey(region.Name), func(_ string, v *MappedRegion, exists bool) bool {
		return exists && v == region
	})
	retractHeapStart(region.Addr)
}

// Lookup returns the live mapping of name, if any.
func Lookup(name string) (*MappedRegion, bool) {
	return regions.Get(registryKey(name))
}

// Mapped returns the names of every live mapping.
func Mapped() []string {
	return regions.Keys()
}
